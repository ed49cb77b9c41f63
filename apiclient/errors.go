package apiclient

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized matches any 401 surfaced to a caller.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	// ErrRefreshFailed is returned when the refresh endpoint itself rejected the
	// side-channel credential. The session is unrecoverable.
	ErrRefreshFailed = errors.New("apiclient: refresh failed")
	// ErrTransport matches network level failures (unreachable, timeout, reset).
	ErrTransport = errors.New("apiclient: transport error")
	// ErrValidation matches 4xx responses other than 401.
	ErrValidation = errors.New("apiclient: validation error")
	// ErrServer matches 5xx responses and malformed envelopes.
	ErrServer = errors.New("apiclient: server error")
	// ErrRefreshQueueFull is returned when too many callers already wait on the
	// in-flight refresh.
	ErrRefreshQueueFull = errors.New("apiclient: too many requests waiting on refresh")
	// ErrGuestLineID is returned when a locally minted cart line id is about to
	// be sent to the server as an update or delete target.
	ErrGuestLineID = errors.New("apiclient: guest line id cannot target the server cart")
)

// APIError is a non-success response, carrying the envelope's error code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Is classifies the error by status.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrValidation:
		return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusUnauthorized
	case ErrServer:
		return e.Status >= 500 || e.Status < 400
	}
	return false
}

// TransportError wraps a failure to get any response at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
func (e *TransportError) Unwrap() error        { return e.Err }

// RefreshFailedError reports that a request got a 401 and the refresh that
// should have rescued it failed. Request is the original 401, nil when the
// refresh was invoked directly.
type RefreshFailedError struct {
	Request *APIError
	Cause   error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRefreshFailed.Error(), e.Cause)
}

func (e *RefreshFailedError) Is(target error) bool { return target == ErrRefreshFailed }

func (e *RefreshFailedError) Unwrap() []error {
	if e.Request == nil {
		return []error{e.Cause}
	}
	return []error{e.Request, e.Cause}
}
