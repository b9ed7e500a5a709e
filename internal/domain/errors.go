package domain

import "errors"

// Session error kinds. Everything after admission is reported inline to the client;
// the kind is what logs and metrics are labelled with.
var (
	ErrAdmissionDenied    = errors.New("admission denied")
	ErrMalformedInput     = errors.New("malformed input")
	ErrStaleAuthorization = errors.New("not authorized to write to this room")
	ErrStoreFailure       = errors.New("store failure")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrDeliveryFailure    = errors.New("delivery failure")
)

// KindOf returns the metric label for a session error.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAdmissionDenied):
		return "admission_denied"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrStaleAuthorization):
		return "stale_authorization"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrDeliveryFailure):
		return "delivery_failure"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "internal"
	}
}
