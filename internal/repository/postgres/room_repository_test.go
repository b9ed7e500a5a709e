package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func TestRoomRepository_Access(t *testing.T) {
	tests := []struct {
		name        string
		member      bool
		blacklisted bool
	}{
		{"member", true, false},
		{"outsider", false, false},
		{"blacklisted_member", true, true},
		{"blacklisted_outsider", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(regexp.QuoteMeta("FROM room_blacklist")).
				WithArgs(int64(2), int64(9)).
				WillReturnRows(sqlmock.NewRows([]string{"member", "blacklisted"}).AddRow(tt.member, tt.blacklisted))

			access, err := NewRoomRepository(db).Access(context.Background(), 2, 9)

			require.NoError(t, err)
			assert.Equal(t, domain.RoomAccess{IsMember: tt.member, IsBlacklisted: tt.blacklisted}, access)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("room_missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM rooms r")).
			WillReturnRows(sqlmock.NewRows([]string{"member", "blacklisted"}))

		_, err = NewRoomRepository(db).Access(context.Background(), 2, 9)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	})

	t.Run("database_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM rooms r")).
			WillReturnError(errors.New("broken pipe"))

		_, err = NewRoomRepository(db).Access(context.Background(), 2, 9)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrRoomNotFound)
	})
}
