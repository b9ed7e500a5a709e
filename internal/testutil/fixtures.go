package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-relay/internal/domain"
)

// TestJWTSecret signs tokens in tests
const TestJWTSecret = "test-secret-with-at-least-32-characters!!"

// Counter for generating unique IDs
var idCounter atomic.Int64

func nextID() int64 {
	return idCounter.Add(1)
}

// PrincipalOptions allows customizing principal fixture creation
type PrincipalOptions struct {
	ID          int64
	Username    string
	IsModerator bool
	IsBlocked   bool
}

// NewTestPrincipal creates a test principal with sensible defaults
// Pass options to override specific fields
func NewTestPrincipal(opts ...func(*PrincipalOptions)) *domain.Principal {
	o := &PrincipalOptions{ID: nextID()}
	for _, opt := range opts {
		opt(o)
	}
	if o.Username == "" {
		o.Username = fmt.Sprintf("user%d", o.ID)
	}

	return &domain.Principal{
		ID:          o.ID,
		Username:    o.Username,
		IsModerator: o.IsModerator,
		IsBlocked:   o.IsBlocked,
		CreatedAt:   time.Now(),
	}
}

func WithPrincipalID(id int64) func(*PrincipalOptions) {
	return func(o *PrincipalOptions) {
		o.ID = id
	}
}

func WithUsername(username string) func(*PrincipalOptions) {
	return func(o *PrincipalOptions) {
		o.Username = username
	}
}

func WithModerator() func(*PrincipalOptions) {
	return func(o *PrincipalOptions) {
		o.IsModerator = true
	}
}

func WithBlocked() func(*PrincipalOptions) {
	return func(o *PrincipalOptions) {
		o.IsBlocked = true
	}
}

// NewTestRoom creates a room owned by ownerID
func NewTestRoom(ownerID int64) *domain.Room {
	id := nextID()
	return &domain.Room{
		ID:        id,
		Name:      fmt.Sprintf("room%d", id),
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
}

// NewTestMessages creates count messages in roomID, oldest first
func NewTestMessages(roomID int64, sender *domain.Principal, count int) []*domain.Message {
	base := time.Now().Add(-time.Hour)
	messages := make([]*domain.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = &domain.Message{
			ID:         nextID(),
			RoomID:     roomID,
			SenderID:   sender.ID,
			SenderName: sender.Username,
			Content:    fmt.Sprintf("message %d", i+1),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return messages
}

// Fixture bundles the in-memory stores most relay tests need
type Fixture struct {
	Principals *MockPrincipalRepository
	Rooms      *MockRoomRepository
	Messages   *MockMessageRepository
}

// NewFixture creates empty stores wired together
func NewFixture() *Fixture {
	principals := NewMockPrincipalRepository()
	messages := NewMockMessageRepository()
	messages.Principals = principals
	return &Fixture{
		Principals: principals,
		Rooms:      NewMockRoomRepository(),
		Messages:   messages,
	}
}

// AddPrincipal stores and returns a new principal
func (f *Fixture) AddPrincipal(opts ...func(*PrincipalOptions)) *domain.Principal {
	p := NewTestPrincipal(opts...)
	f.Principals.mu.Lock()
	f.Principals.Principals[p.ID] = p
	f.Principals.mu.Unlock()
	return p
}

// AddRoom stores a new room owned by owner
func (f *Fixture) AddRoom(owner *domain.Principal) *domain.Room {
	room := NewTestRoom(owner.ID)
	f.Rooms.AddRoom(room)
	return room
}

// SignToken returns an HS256 token carrying userID and expiring after ttl
func SignToken(t *testing.T, secret string, userID any, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
