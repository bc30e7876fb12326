package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/taskpilot/pkg/llm"
)

func TestNewProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)
}

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider("sk-test")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.GetModel())

	p, err = NewProvider("sk-test", WithModel("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.GetModel())
}

func TestComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `[{"action":"screenshot"}]`}},
			},
		})
	}))
	defer server.Close()

	p, err := NewProvider("sk-test", WithBaseURL(server.URL), WithModel("gpt-4o-mini"))
	require.NoError(t, err)

	reply, err := p.Complete(context.Background(), []*llm.Message{
		llm.NewSystemMessage("you are a planner"),
		llm.NewUserMessage("Goal: take a screenshot"),
	})
	require.NoError(t, err)

	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, `[{"action":"screenshot"}]`, reply.Content)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])

	messages, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p, err := NewProvider("sk-test", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*llm.Message{llm.NewUserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p, err := NewProvider("sk-test", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*llm.Message{llm.NewUserMessage("hi")})
	assert.Error(t, err)
}
