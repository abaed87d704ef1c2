package models

import "fmt"

// OutcomeKind tags the Outcome variant
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeNotFound OutcomeKind = "not_found"
	OutcomeError    OutcomeKind = "error"
)

// Outcome is the terminal classification of a Job. Exactly one is produced per
// job; it is passed by value and never mutated after construction.
//
// Field use per kind:
//   - success:   ArtifactURL, Prompt
//   - not_found: Diagnostic, Prompt, BestGuessURL (may be empty)
//   - error:     Message, Prompt
type Outcome struct {
	Kind         OutcomeKind `json:"kind"`
	ArtifactURL  string      `json:"artifact_url,omitempty"`
	Diagnostic   string      `json:"diagnostic,omitempty"`
	BestGuessURL string      `json:"best_guess_url,omitempty"`
	Message      string      `json:"message,omitempty"`
	Prompt       string      `json:"prompt"`
}

// SuccessOutcome returns a success outcome for the extracted artifact URL
func SuccessOutcome(artifactURL, prompt string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ArtifactURL: artifactURL, Prompt: prompt}
}

// NotFoundOutcome returns a not-found outcome; bestGuessURL may be empty
func NotFoundOutcome(diagnostic, prompt, bestGuessURL string) Outcome {
	return Outcome{Kind: OutcomeNotFound, Diagnostic: diagnostic, Prompt: prompt, BestGuessURL: bestGuessURL}
}

// ErrorOutcome returns an error outcome with the failure message
func ErrorOutcome(message, prompt string) Outcome {
	return Outcome{Kind: OutcomeError, Message: message, Prompt: prompt}
}

// IsSuccess reports whether the job produced an artifact
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// PreviewURL returns the URL worth showing to the user, if any
func (o Outcome) PreviewURL() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.ArtifactURL
	case OutcomeNotFound:
		return o.BestGuessURL
	}
	return ""
}

// Reason returns the failure text for non-success outcomes
func (o Outcome) Reason() string {
	switch o.Kind {
	case OutcomeNotFound:
		return o.Diagnostic
	case OutcomeError:
		return o.Message
	}
	return ""
}

// Status maps the outcome to the job history status
func (o Outcome) Status() JobStatus {
	switch o.Kind {
	case OutcomeSuccess:
		return JobStatusSuccess
	case OutcomeNotFound:
		return JobStatusNotFound
	}
	return JobStatusError
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("success(%s)", o.ArtifactURL)
	case OutcomeNotFound:
		return fmt.Sprintf("not_found(%q)", o.Diagnostic)
	}
	return fmt.Sprintf("error(%q)", o.Message)
}
