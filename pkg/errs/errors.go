// Package errs holds the error taxonomy shared by the presence and delivery
// core. Callers wrap these with fmt.Errorf("...: %w") and match with errors.Is.
package errs

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotIdentified   = errors.New("session not identified")
	ErrSessionClosed   = errors.New("session closed")
	ErrTransport       = errors.New("transport failure")
	ErrPersistence     = errors.New("persistence failure")
	ErrNotFound        = errors.New("not found")
	ErrHubStopped      = errors.New("hub stopped")
)

// Code maps an error to the stable code sent to clients in "error" events.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotIdentified):
		return "not_identified"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrTransport):
		return "transport_failure"
	case errors.Is(err, ErrHubStopped):
		return "unavailable"
	}
	return "internal"
}
