package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MembershipEventType names a mutation that can revoke live access.
type MembershipEventType string

const (
	// MemberRemoving is announced by the room service before the member row is deleted.
	MemberRemoving    MembershipEventType = "member_removing"
	MemberRemoved     MembershipEventType = "member_removed"
	MemberBlacklisted MembershipEventType = "member_blacklisted"
	PrincipalBlocked  MembershipEventType = "principal_blocked"
)

// Eviction reasons sent to the affected session in the close frame.
const (
	EvictReasonRemoved = "removed"
	EvictReasonBlocked = "blocked"
)

var ErrInvalidEvent = errors.New("invalid membership event")

// MembershipEvent is published whenever room membership or block state changes.
// RoomID is zero for PrincipalBlocked.
type MembershipEvent struct {
	Type        MembershipEventType `json:"type"`
	RoomID      int64               `json:"room_id,omitempty"`
	PrincipalID int64               `json:"principal_id"`
}

// Validate checks that the event carries the ids its type requires.
func (e MembershipEvent) Validate() error {
	if e.PrincipalID <= 0 {
		return fmt.Errorf("%w: principal_id is required", ErrInvalidEvent)
	}
	switch e.Type {
	case MemberRemoving, MemberRemoved, MemberBlacklisted:
		if e.RoomID <= 0 {
			return fmt.Errorf("%w: room_id is required for %s", ErrInvalidEvent, e.Type)
		}
	case PrincipalBlocked:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// ParseMembershipEvent decodes and validates a JSON event from a broker or a
// database notification.
func ParseMembershipEvent(data []byte) (MembershipEvent, error) {
	var e MembershipEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return MembershipEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return MembershipEvent{}, err
	}
	return e, nil
}
