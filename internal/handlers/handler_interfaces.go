package handlers

import "github.com/ternarybob/ghibliflow/internal/services/browser"

// PromptResolver maps a prompt type from the upload form to prompt text.
type PromptResolver interface {
	Resolve(promptType, customText string) (string, error)
}

// SessionStateReporter exposes the shared browser session state.
type SessionStateReporter interface {
	State() browser.SessionState
}
