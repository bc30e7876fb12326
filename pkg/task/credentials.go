package task

import "strings"

// CredentialFields flags which secret values an interactive credentials
// request is asking for.
type CredentialFields struct {
	Username bool `json:"username"`
	Email    bool `json:"email"`
	Password bool `json:"password"`
}

// IsCredentialStep reports whether executing this step needs secret
// input that is not present in its params: a type step targeting a
// login field with no text to type.
func (s *Step) IsCredentialStep() bool {
	if s.Action != KindType {
		return false
	}
	if strings.TrimSpace(s.Text) != "" {
		return false
	}
	return looksLikeCredentialSelector(s.Selector)
}

// CredentialFields derives the requested fields from the step's
// selector.
func (s *Step) CredentialFields() CredentialFields {
	lowered := strings.ToLower(s.Selector)
	return CredentialFields{
		Username: strings.Contains(lowered, "user") || strings.Contains(lowered, "email"),
		Email:    strings.Contains(lowered, "email"),
		Password: strings.Contains(lowered, "password"),
	}
}

// ApplyCredentials fills the step's text from supplied credential
// values, routed by what the selector targets.
func (s *Step) ApplyCredentials(data map[string]string) {
	lowered := strings.ToLower(s.Selector)
	switch {
	case strings.Contains(lowered, "password") && data["password"] != "":
		s.Text = data["password"]
	case strings.Contains(lowered, "email") && data["email"] != "":
		s.Text = data["email"]
	case data["username"] != "":
		s.Text = data["username"]
	}
}
