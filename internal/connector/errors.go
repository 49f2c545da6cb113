package connector

import "errors"

// Common errors returned by connector operations.
//
// Check them with errors.Is():
//
//	if errors.Is(err, connector.ErrUnavailable) {
//	    // transient, worth retrying
//	}
var (
	// ErrUnavailable is returned when the remote service cannot be
	// reached right now. Transient; the sync manager retries with
	// backoff.
	ErrUnavailable = errors.New("connector unavailable")

	// ErrRejected is returned when the remote service refused the
	// operation (bad credentials, invalid payload). Permanent; retrying
	// the same call cannot succeed.
	ErrRejected = errors.New("connector rejected operation")

	// ErrItemNotFound is returned when a push targets an external id the
	// remote no longer knows.
	ErrItemNotFound = errors.New("external item not found")

	// ErrUnknownType is returned when a configuration names a connector
	// type no implementation registered.
	ErrUnknownType = errors.New("unknown connector type")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}
