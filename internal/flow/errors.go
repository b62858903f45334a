package flow

import "errors"

// Turn-level failures. None of them is retried or replaced with fallback text.
var (
	// ErrConfigurationUnavailable means the stage configuration provider could not serve a stage.
	ErrConfigurationUnavailable = errors.New("stage configuration unavailable")
	// ErrExtractionMalformed means the extraction response held no valid payload.
	ErrExtractionMalformed = errors.New("extraction response malformed")
	// ErrGenerationUnavailable means a capability call failed or returned no text.
	ErrGenerationUnavailable = errors.New("text generation unavailable")
	// ErrEmptyUtterance means the user message was blank.
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrSessionNotFound means no progress is stored for the session id.
	ErrSessionNotFound = errors.New("session not found")
)
