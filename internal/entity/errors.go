package entity

import "errors"

// Domain errors
var (
	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")

	// External service errors
	ErrExternalService      = errors.New("external service failure")
	ErrMalformedModelOutput = errors.New("malformed model output")

	// Memory errors
	ErrSummarizationFailed     = errors.New("summarization failed")
	ErrSummarizationInProgress = errors.New("summarization already in progress")
	ErrNothingToSummarize      = errors.New("nothing to summarize")
	ErrCacheMiss               = errors.New("cache miss")

	// Validation errors
	ErrInvalidRequest    = errors.New("invalid request")
	ErrMissingField      = errors.New("required field is missing")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupportedFormat = errors.New("unsupported format")
)
