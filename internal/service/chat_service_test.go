package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
	"chat-relay/internal/testutil"
)

func TestChatService_Post(t *testing.T) {
	t.Run("persists_and_returns_message", func(t *testing.T) {
		f := testutil.NewFixture()
		alice := f.AddPrincipal(testutil.WithUsername("alice"))
		room := f.AddRoom(alice)
		svc := NewChatService(f.Messages, 20)

		msg, err := svc.Post(context.Background(), *alice, room.ID, "hello")

		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Equal(t, "alice", msg.SenderName)
		assert.Equal(t, room.ID, msg.RoomID)
		assert.False(t, msg.CreatedAt.IsZero())
		assert.Len(t, f.Messages.Stored(room.ID), 1)
	})

	t.Run("blocked_sender_is_store_failure", func(t *testing.T) {
		f := testutil.NewFixture()
		alice := f.AddPrincipal(testutil.WithBlocked())
		room := f.AddRoom(alice)
		svc := NewChatService(f.Messages, 20)

		_, err := svc.Post(context.Background(), *alice, room.ID, "hello")

		assert.ErrorIs(t, err, domain.ErrStoreFailure)
		assert.ErrorIs(t, err, domain.ErrSenderBlocked)
		assert.Empty(t, f.Messages.Stored(room.ID))
	})

	t.Run("repository_error_is_store_failure", func(t *testing.T) {
		repo := testutil.NewMockMessageRepository()
		repo.CreateFunc = func(ctx context.Context, m *domain.Message) error {
			return errors.New("connection refused")
		}
		svc := NewChatService(repo, 20)

		_, err := svc.Post(context.Background(), domain.Principal{ID: 1}, 1, "x")

		assert.ErrorIs(t, err, domain.ErrStoreFailure)
		assert.Equal(t, "store_failure", domain.KindOf(err))
	})

	t.Run("cancelled_context", func(t *testing.T) {
		f := testutil.NewFixture()
		alice := f.AddPrincipal()
		room := f.AddRoom(alice)
		svc := NewChatService(f.Messages, 20)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Post(ctx, *alice, room.ID, "late")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.Messages.Stored(room.ID))
	})
}

func TestChatService_History(t *testing.T) {
	t.Run("oldest_first_and_limited", func(t *testing.T) {
		f := testutil.NewFixture()
		alice := f.AddPrincipal()
		room := f.AddRoom(alice)
		svc := NewChatService(f.Messages, 3)

		for _, content := range []string{"one", "two", "three", "four", "five"} {
			_, err := svc.Post(context.Background(), *alice, room.ID, content)
			require.NoError(t, err)
		}

		history, err := svc.History(context.Background(), room.ID)

		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "three", history[0].Content)
		assert.Equal(t, "four", history[1].Content)
		assert.Equal(t, "five", history[2].Content)
		assert.True(t, history[0].CreatedAt.Before(history[2].CreatedAt))
	})

	t.Run("other_rooms_excluded", func(t *testing.T) {
		f := testutil.NewFixture()
		alice := f.AddPrincipal()
		a := f.AddRoom(alice)
		b := f.AddRoom(alice)
		svc := NewChatService(f.Messages, 20)

		_, err := svc.Post(context.Background(), *alice, a.ID, "in a")
		require.NoError(t, err)

		history, err := svc.History(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("default_limit", func(t *testing.T) {
		repo := testutil.NewMockMessageRepository()
		var gotLimit int
		repo.RecentByRoomFunc = func(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
			gotLimit = limit
			return nil, nil
		}

		_, err := NewChatService(repo, 0).History(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, DefaultHistoryLimit, gotLimit)
	})

	t.Run("store_error", func(t *testing.T) {
		repo := testutil.NewMockMessageRepository()
		repo.RecentByRoomFunc = func(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
			return nil, testutil.ErrMockStore
		}

		_, err := NewChatService(repo, 20).History(context.Background(), 1)
		assert.ErrorIs(t, err, domain.ErrStoreFailure)
	})
}
