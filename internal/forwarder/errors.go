package forwarder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMethodNotAllowed is returned for any request that is not a POST.
var ErrMethodNotAllowed = errors.New("method not allowed")

// Issue is one field-level violation, shaped like a zod issue so existing
// front-ends can read it unchanged.
type Issue struct {
	Code     string   `json:"code"`
	Expected string   `json:"expected,omitempty"`
	Received string   `json:"received,omitempty"`
	Options  []string `json:"options,omitempty"`
	Path     []string `json:"path"`
	Message  string   `json:"message"`
}

// ValidationError lists every violation found in a request body.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		field := strings.Join(is.Path, ".")
		if field == "" {
			field = "(body)"
		}
		parts = append(parts, field+": "+is.Message)
	}
	return "invalid chat message: " + strings.Join(parts, "; ")
}

// UpstreamError collapses every webhook failure into one kind: transport
// errors, non-2xx statuses and undecodable bodies.
type UpstreamError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webhook: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
