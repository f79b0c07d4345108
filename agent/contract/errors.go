package contract

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrConfiguration     = errors.New("configuration error")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrAgentSession      = errors.New("agent session failed")
	ErrToolDenied        = errors.New("tool use denied")
	ErrPromptMissing     = errors.New("required prompt is missing")
)
