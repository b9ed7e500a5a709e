//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository/postgres"
)

// setupPostgres starts a PostgreSQL container and applies the relay schema
func setupPostgres(t *testing.T) (*sql.DB, string) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "failed to connect to PostgreSQL")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db))
	// Idempotent
	require.NoError(t, postgres.Migrate(ctx, db))

	return db, dsn
}

func insertUser(t *testing.T, db *sql.DB, username string, moderator bool) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO users (username, is_moderator) VALUES ($1, $2) RETURNING id`, username, moderator).Scan(&id)
	require.NoError(t, err)
	return id
}

func insertRoom(t *testing.T, db *sql.DB, name string, owner int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO rooms (name, owner_id) VALUES ($1, $2) RETURNING id`, name, owner).Scan(&id)
	require.NoError(t, err)
	return id
}

type eventCollector struct {
	mu     sync.Mutex
	events []domain.MembershipEvent
}

func (c *eventCollector) Handle(_ context.Context, e domain.MembershipEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *eventCollector) snapshot() []domain.MembershipEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MembershipEvent{}, c.events...)
}

func TestRepositories_Integration(t *testing.T) {
	db, dsn := setupPostgres(t)
	ctx := context.Background()

	principals := postgres.NewPrincipalRepository(db)
	rooms := postgres.NewRoomRepository(db)
	messages := postgres.NewMessageRepository(db)

	owner := insertUser(t, db, "owner", false)
	guest := insertUser(t, db, "guest", false)
	moderator := insertUser(t, db, "moderator", true)
	room := insertRoom(t, db, "general", owner)

	t.Run("principal_flags", func(t *testing.T) {
		p, err := principals.GetByID(ctx, moderator)
		require.NoError(t, err)
		assert.True(t, p.IsModerator)
		assert.False(t, p.IsBlocked)

		_, err = principals.GetByID(ctx, 999999)
		assert.ErrorIs(t, err, domain.ErrPrincipalNotFound)
	})

	t.Run("owner_is_member_on_creation", func(t *testing.T) {
		access, err := rooms.Access(ctx, room, owner)
		require.NoError(t, err)
		assert.True(t, access.IsMember)

		access, err = rooms.Access(ctx, room, guest)
		require.NoError(t, err)
		assert.False(t, access.IsMember)

		_, err = rooms.Access(ctx, 999999, owner)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	})

	t.Run("member_and_blacklist_can_overlap", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room, guest)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO room_blacklist (room_id, user_id) VALUES ($1, $2)`, room, guest)
		require.NoError(t, err)

		access, err := rooms.Access(ctx, room, guest)
		require.NoError(t, err)
		assert.True(t, access.IsMember)
		assert.True(t, access.IsBlacklisted)
	})

	t.Run("created_at_strictly_increases_under_concurrency", func(t *testing.T) {
		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- messages.Create(ctx, &domain.Message{RoomID: room, SenderID: owner, Content: fmt.Sprintf("m%d", i)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		recent, err := messages.RecentByRoom(ctx, room, writers)
		require.NoError(t, err)
		require.Len(t, recent, writers)
		for i := 1; i < len(recent); i++ {
			assert.True(t, recent[i-1].CreatedAt.After(recent[i].CreatedAt), "created_at must strictly decrease in newest-first order")
			assert.Greater(t, recent[i-1].ID, recent[i].ID)
		}
		assert.Equal(t, "owner", recent[0].SenderName)
	})

	t.Run("blocked_sender_rejected_in_transaction", func(t *testing.T) {
		_, err := db.Exec(`UPDATE users SET is_blocked = TRUE WHERE id = $1`, moderator)
		require.NoError(t, err)

		err = messages.Create(ctx, &domain.Message{RoomID: room, SenderID: moderator, Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrSenderBlocked)
	})

	t.Run("notify_triggers_reach_listener", func(t *testing.T) {
		collector := &eventCollector{}
		listener := postgres.NewMembershipListener(dsn, collector)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go listener.Run(runCtx)
		time.Sleep(500 * time.Millisecond)

		member := insertUser(t, db, "leaver", false)
		_, err := db.Exec(`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room, member)
		require.NoError(t, err)
		_, err = db.Exec(`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, room, member)
		require.NoError(t, err)
		_, err = db.Exec(`UPDATE users SET is_blocked = TRUE WHERE id = $1`, member)
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return len(collector.snapshot()) >= 2 }, 5*time.Second, 50*time.Millisecond)
		assert.Contains(t, collector.snapshot(), domain.MembershipEvent{Type: domain.MemberRemoved, RoomID: room, PrincipalID: member})
		assert.Contains(t, collector.snapshot(), domain.MembershipEvent{Type: domain.PrincipalBlocked, PrincipalID: member})
	})
}
