package layergroup

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// PermissionDenied is the phrase every authorization failure carries.
const PermissionDenied = "permission denied"

var ErrNotFound = errors.New("not found")

// ValidationError rejects a submission: malformed style, malformed query or
// malformed configuration. Messages are ordered by originating layer.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return PermissionDenied
	}
	return PermissionDenied + ": " + e.Reason
}

type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InfrastructureError wraps failures of the shared store or of a remote
// collaborator, including timeouts.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// StatusCode maps an error from the pipeline to an HTTP status.
func StatusCode(err error) int {
	var (
		ve *ValidationError
		ae *AuthorizationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Messages returns the client-facing error list for err.
func Messages(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) && len(ve.Messages) > 0 {
		return ve.Messages
	}
	if StatusCode(err) == http.StatusInternalServerError {
		return []string{"internal error"}
	}
	return []string{err.Error()}
}
