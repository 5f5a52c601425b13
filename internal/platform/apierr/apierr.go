package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for the core failure taxonomy. Collaborator failures are wrapped
// into one of these at the orchestrator boundary; raw driver/transport errors
// never reach a client.
var (
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrGenerationTimeout    = errors.New("generation timeout")
	ErrGenerationFailure    = errors.New("generation failure")
	ErrConfiguration        = errors.New("configuration error")
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func RetrievalUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, "retrieval_unavailable", join(ErrRetrievalUnavailable, err))
}

func GenerationTimeout(err error) *Error {
	return New(http.StatusGatewayTimeout, "generation_timeout", join(ErrGenerationTimeout, err))
}

func GenerationFailure(err error) *Error {
	return New(http.StatusBadGateway, "generation_failure", join(ErrGenerationFailure, err))
}

func Configuration(err error) *Error {
	return New(http.StatusInternalServerError, "configuration_error", join(ErrConfiguration, err))
}

func Validation(msg string) *Error {
	return New(http.StatusBadRequest, "validation_error", fmt.Errorf("%w: %s", ErrValidation, msg))
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, "not_found", fmt.Errorf("%w: %s", ErrNotFound, what))
}

func join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// UserMessage maps an error to the short, non-alarming text shown to clients.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrRetrievalUnavailable):
		return "I couldn't look up your health records just now. Please try sending your message again."
	case errors.Is(err, ErrGenerationTimeout):
		return "That took longer than expected. Your message is saved, feel free to try again."
	case errors.Is(err, ErrGenerationFailure):
		return "I had trouble writing a response. Your message is saved, please try again."
	case errors.Is(err, ErrValidation):
		return "Something was missing from that request. Please check it and try again."
	case errors.Is(err, ErrNotFound):
		return "I couldn't find that item."
	default:
		return "Something went wrong on our side. Please try again."
	}
}
