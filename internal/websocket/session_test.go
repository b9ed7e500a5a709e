package websocket

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
	"chat-relay/internal/service"
	fixtures "chat-relay/internal/testutil"
)

func TestAdmit(t *testing.T) {
	f := fixtures.NewFixture()
	owner := f.AddPrincipal()
	outsider := f.AddPrincipal()
	blocked := f.AddPrincipal(fixtures.WithBlocked())
	room := f.AddRoom(owner)
	f.Rooms.AddMember(room.ID, blocked.ID)

	authz := service.NewAuthorizer(f.Principals, f.Rooms)
	roomID := func() string { return strconv.FormatInt(room.ID, 10) }

	tests := []struct {
		name      string
		principal domain.Principal
		rawRoom   string
		reason    string
		closeCode int
	}{
		{"member", *owner, roomID(), "", 0},
		{"non_numeric_room", *owner, "general", DenyInvalidRoom, CloseInvalidRoom},
		{"empty_room", *owner, "", DenyInvalidRoom, CloseInvalidRoom},
		{"zero_room", *owner, "0", DenyInvalidRoom, CloseInvalidRoom},
		{"negative_room", *owner, "-4", DenyInvalidRoom, CloseInvalidRoom},
		{"fractional_room", *owner, "1.5", DenyInvalidRoom, CloseInvalidRoom},
		{"overflowing_room", *owner, "99999999999999999999", DenyInvalidRoom, CloseInvalidRoom},
		{"anonymous", domain.Anonymous, roomID(), DenyUnauthenticated, CloseUnauthenticated},
		{"not_a_member", *outsider, roomID(), DenyForbidden, CloseForbidden},
		{"blocked_member", *blocked, roomID(), DenyForbidden, CloseForbidden},
		{"missing_room", *owner, "123456789", DenyForbidden, CloseForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admission, err := Admit(context.Background(), authz, tt.principal, tt.rawRoom)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, room.ID, admission.RoomID)
				assert.Equal(t, tt.principal.ID, admission.Principal.ID)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrAdmissionDenied)
			assert.Equal(t, "admission_denied", domain.KindOf(err))

			denial, ok := AsAdmissionError(err)
			require.True(t, ok)
			assert.Equal(t, tt.reason, denial.Reason)
			assert.Equal(t, tt.closeCode, denial.CloseCode())
			assert.Zero(t, admission.RoomID)
		})
	}
}

func TestAdmit_InvalidRoomCheckedBeforeIdentity(t *testing.T) {
	_, err := Admit(context.Background(), nil, domain.Anonymous, "abc")
	denial, ok := AsAdmissionError(err)
	require.True(t, ok)
	assert.Equal(t, DenyInvalidRoom, denial.Reason)
}

func TestAdmit_CountsOutcomes(t *testing.T) {
	before := testutil.ToFloat64(observability.AdmissionsTotal.WithLabelValues(DenyUnauthenticated))
	_, _ = Admit(context.Background(), nil, domain.Anonymous, "1")
	after := testutil.ToFloat64(observability.AdmissionsTotal.WithLabelValues(DenyUnauthenticated))
	assert.Equal(t, before+1, after)
}

func TestAsAdmissionError_OtherErrors(t *testing.T) {
	_, ok := AsAdmissionError(errors.New("boom"))
	assert.False(t, ok)
}
