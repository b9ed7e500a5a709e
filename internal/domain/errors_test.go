package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"admission", fmt.Errorf("%w: forbidden", ErrAdmissionDenied), "admission_denied"},
		{"malformed", fmt.Errorf("%w: empty message", ErrMalformedInput), "malformed_input"},
		{"stale", ErrStaleAuthorization, "stale_authorization"},
		{"rate_limited", ErrRateLimited, "rate_limited"},
		{"delivery", fmt.Errorf("%w: broker down", ErrDeliveryFailure), "delivery_failure"},
		{"store", fmt.Errorf("%w: %w", ErrStoreFailure, ErrSenderBlocked), "store_failure"},
		{"unknown", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOf_ClientAndStoreFaultsStayDistinct(t *testing.T) {
	assert.NotEqual(t, KindOf(ErrMalformedInput), KindOf(ErrStoreFailure))
}

func TestPrincipal_IsAnonymous(t *testing.T) {
	assert.True(t, Anonymous.IsAnonymous())
	assert.True(t, Principal{Username: "ghost"}.IsAnonymous())
	assert.False(t, Principal{ID: 7}.IsAnonymous())
}

func TestMembershipEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   MembershipEvent
		wantErr bool
	}{
		{"member_removing", MembershipEvent{Type: MemberRemoving, RoomID: 1, PrincipalID: 2}, false},
		{"member_removed", MembershipEvent{Type: MemberRemoved, RoomID: 1, PrincipalID: 2}, false},
		{"member_blacklisted", MembershipEvent{Type: MemberBlacklisted, RoomID: 1, PrincipalID: 2}, false},
		{"principal_blocked_without_room", MembershipEvent{Type: PrincipalBlocked, PrincipalID: 2}, false},
		{"missing_principal", MembershipEvent{Type: MemberRemoved, RoomID: 1}, true},
		{"room_event_without_room", MembershipEvent{Type: MemberRemoving, PrincipalID: 2}, true},
		{"unknown_type", MembershipEvent{Type: "renamed", RoomID: 1, PrincipalID: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseMembershipEvent(t *testing.T) {
	t.Run("valid_room_event", func(t *testing.T) {
		e, err := ParseMembershipEvent([]byte(`{"type":"member_removed","room_id":3,"principal_id":7}`))
		require.NoError(t, err)
		assert.Equal(t, MembershipEvent{Type: MemberRemoved, RoomID: 3, PrincipalID: 7}, e)
	})

	t.Run("valid_global_block", func(t *testing.T) {
		e, err := ParseMembershipEvent([]byte(`{"type":"principal_blocked","principal_id":7}`))
		require.NoError(t, err)
		assert.Equal(t, PrincipalBlocked, e.Type)
		assert.Zero(t, e.RoomID)
	})

	t.Run("invalid_json", func(t *testing.T) {
		_, err := ParseMembershipEvent([]byte(`{"type":`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("missing_room", func(t *testing.T) {
		_, err := ParseMembershipEvent([]byte(`{"type":"member_blacklisted","principal_id":7}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}
