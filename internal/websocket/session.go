package websocket

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// Admission denial reasons
const (
	DenyInvalidRoom     = "invalid_room"
	DenyUnauthenticated = "unauthenticated"
	DenyForbidden       = "forbidden"
)

// Admission is the outcome of a successful Connecting to Admitted transition.
type Admission struct {
	Principal domain.Principal
	RoomID    int64
}

// AdmissionError is a fatal rejection of a connection attempt. It wraps
// domain.ErrAdmissionDenied.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrAdmissionDenied, e.Reason)
}

func (e *AdmissionError) Unwrap() error {
	return domain.ErrAdmissionDenied
}

// CloseCode is the close frame code used when denials are reported in-band.
func (e *AdmissionError) CloseCode() int {
	switch e.Reason {
	case DenyInvalidRoom:
		return CloseInvalidRoom
	case DenyUnauthenticated:
		return CloseUnauthenticated
	default:
		return CloseForbidden
	}
}

// AsAdmissionError extracts the denial from err.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var admissionErr *AdmissionError
	ok := errors.As(err, &admissionErr)
	return admissionErr, ok
}

// Admit decides whether principal may open a session on the room named by
// rawRoomID. Room ids are positive integers.
func Admit(ctx context.Context, authz Authorizer, principal domain.Principal, rawRoomID string) (Admission, error) {
	roomID, err := strconv.ParseInt(rawRoomID, 10, 64)
	if err != nil || roomID <= 0 {
		return deny(DenyInvalidRoom)
	}

	if principal.IsAnonymous() {
		return deny(DenyUnauthenticated)
	}

	if !authz.CanRead(ctx, principal, roomID) {
		return deny(DenyForbidden)
	}

	observability.AdmissionsTotal.WithLabelValues("admitted").Inc()
	return Admission{Principal: principal, RoomID: roomID}, nil
}

func deny(reason string) (Admission, error) {
	observability.AdmissionsTotal.WithLabelValues(reason).Inc()
	return Admission{}, &AdmissionError{Reason: reason}
}
