package experiment

import (
	"errors"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

// ErrorCode maps session errors to the short codes returned to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrInvalidAnswer):
		return "invalid_answer"
	case errors.Is(err, ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, ErrInvalidIndex):
		return "invalid_index"
	case errors.Is(err, ErrInvalidTiming):
		return "invalid_timing"
	case errors.Is(err, stimulus.ErrEmptyFilter):
		return "empty_filter"
	case errors.Is(err, stimulus.ErrSchema):
		return "schema_error"
	default:
		return "internal_error"
	}
}
