// services/errors.go

package services

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrFetchFailed is returned when the server cart or wishlist could not be
	// loaded. The last good value stays cached.
	ErrFetchFailed = errors.New("services: fetch failed")
	// ErrMutationFailed is returned when the server refused a change. Any
	// optimistic edit has been rolled back.
	ErrMutationFailed = errors.New("services: mutation failed")
	// ErrMergeFailed is returned when the guest cart could not be merged after
	// sign-in. The guest cart is kept so the merge can run again on a later login.
	ErrMergeFailed = errors.New("services: guest cart merge failed")
	// ErrAuthRequired is returned for actions only a signed-in user may take.
	ErrAuthRequired = errors.New("services: sign in required")
)

// opError tags a cause with one of the sentinels above, keeping the cause
// reachable for apiclient classification.
type opError struct {
	kind error
	op   string
	err  error
}

func (e *opError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.op, e.kind.Error(), e.err)
}

func (e *opError) Is(target error) bool { return target == e.kind }
func (e *opError) Unwrap() error        { return e.err }

func fail(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{kind: kind, op: op, err: err}
}
