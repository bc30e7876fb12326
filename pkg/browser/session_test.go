package browser

import "testing"

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid https", "https://example.com/products", "https://example.com/products"},
		{"valid http", "http://example.com", "http://example.com"},
		{"embedded url", "go to https://example.com/sale now", "https://example.com/sale"},
		{"bare domain", "amazon.in", "https://amazon.in"},
		{"domain with www", "www.flipkart.com", "https://flipkart.com"},
		{"free text", "best hiking boots", "https://www.google.com/search?q=best+hiking+boots"},
		{"empty", "", "https://www.google.com"},
		{"whitespace", "   ", "https://www.google.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeURL(tt.in); got != tt.want {
				t.Errorf("SanitizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeSelector(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"css passthrough", "input[type='search']", "input[type='search']"},
		{"id shorthand", "id=search-box", "#search-box"},
		{"name shorthand", "name=q", `[name="q"]`},
		{"aria-label shorthand", "aria-label=Search", `[aria-label="Search"]`},
		{"quoted value", `name="q"`, `[name="q"]`},
		{"whitespace trimmed", "  #submit  ", "#submit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeSelector(tt.in); got != tt.want {
				t.Errorf("normalizeSelector(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsLoginSelector(t *testing.T) {
	if !isLoginSelector("a[href='/login']") {
		t.Error("login link should be detected")
	}
	if !isLoginSelector("#signin-button") {
		t.Error("signin button should be detected")
	}
	if isLoginSelector("#search") {
		t.Error("search selector is not a login selector")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.amazon.in/s?k=shoes", "amazon.in"},
		{"open flipkart.com please", "flipkart.com"},
		{"no domain here", ""},
	}
	for _, tt := range tests {
		if got := extractDomain(tt.in); got != tt.want {
			t.Errorf("extractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
