// Package llm provides the abstraction over the language-model backend
// used for plan generation.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o-mini"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := provider.Complete(ctx, []*llm.Message{
//	    llm.NewSystemMessage("You are a planner."),
//	    llm.NewUserMessage("Goal: open example.com"),
//	})
package llm

import "context"

// Message is one turn of a completion request.
type Message struct {
	Role    string
	Content string
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: "system", Content: content}
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) *Message {
	return &Message{Role: "user", Content: content}
}

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only; interpreting the completion
// (plan parsing, validation) belongs to the caller. This keeps
// providers reusable outside the planner and testable on their own.
type Provider interface {
	// Complete sends messages to the LLM and returns the full assistant
	// response. Returns an error if the request cannot be completed;
	// the context governs cancellation and timeouts.
	Complete(ctx context.Context, messages []*Message) (*Message, error)

	// GetModel returns the model name being used.
	GetModel() string
}
