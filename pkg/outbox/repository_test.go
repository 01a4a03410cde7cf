package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB создаёт GORM поверх sqlmock.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

var outboxColumns = []string{
	"id", "aggregate_type", "aggregate_id", "event_type", "topic", "message_key",
	"payload", "headers", "created_at", "published_at", "dead_letter_at", "retry_count", "last_error",
}

func TestOutboxRepository_Create(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOutboxRepository(gormDB, "intent")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record := New("intent", "intent-1", "svpay.intent.authorized", "svpay.intent.events", []byte(`{}`), nil)
	err := repo.Create(context.Background(), record)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_FetchPending(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOutboxRepository(gormDB, "intent")

	now := time.Now()
	rows := sqlmock.NewRows(outboxColumns).
		AddRow("o-1", "intent", "intent-1", "svpay.intent.authorized", "svpay.intent.events", "intent-1",
			[]byte(`{"intent_id":"intent-1"}`), []byte(`{"trace_id":"t-1"}`), now, nil, nil, 0, nil).
		AddRow("o-2", "intent", "intent-2", "svpay.intent.voided", "svpay.intent.events", "intent-2",
			[]byte(`{}`), []byte(`not-json`), now, nil, nil, 2, "timeout")

	mock.ExpectQuery("SELECT \\* FROM `outbox` WHERE aggregate_type = \\? AND published_at IS NULL AND dead_letter_at IS NULL " +
		"ORDER BY retry_count ASC,created_at ASC LIMIT").
		WillReturnRows(rows)

	records, err := repo.FetchPending(context.Background(), 10)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "o-1", records[0].ID)
	assert.Equal(t, map[string]string{"trace_id": "t-1"}, records[0].Headers)
	assert.True(t, records[0].Pending())
	assert.Nil(t, records[1].Headers, "битые headers отбрасываются")
	assert.Equal(t, 2, records[1].RetryCount)
	require.NotNil(t, records[1].LastError)
	assert.Equal(t, "timeout", *records[1].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_CountPending(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOutboxRepository(gormDB, "intent")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `outbox` WHERE aggregate_type = ? AND published_at IS NULL AND dead_letter_at IS NULL")).
		WithArgs("intent").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(42))

	n, err := repo.CountPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Mark(t *testing.T) {
	tests := []struct {
		name         string
		column       string
		call         func(r OutboxRepository) error
		rowsAffected int64
		wantErr      error
	}{
		{
			name:         "published",
			column:       "published_at",
			call:         func(r OutboxRepository) error { return r.MarkPublished(context.Background(), "o-1") },
			rowsAffected: 1,
		},
		{
			name:         "published: запись не найдена",
			column:       "published_at",
			call:         func(r OutboxRepository) error { return r.MarkPublished(context.Background(), "o-1") },
			rowsAffected: 0,
			wantErr:      ErrOutboxNotFound,
		},
		{
			name:         "dead letter",
			column:       "dead_letter_at",
			call:         func(r OutboxRepository) error { return r.MarkDeadLetter(context.Background(), "o-1") },
			rowsAffected: 1,
		},
		{
			name:         "failed",
			column:       "last_error",
			call:         func(r OutboxRepository) error { return r.MarkFailed(context.Background(), "o-1", errors.New("broker down")) },
			rowsAffected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := NewOutboxRepository(gormDB, "intent")

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE `outbox` SET .*`" + tt.column + "`=.* WHERE id = \\?").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))
			mock.ExpectCommit()

			err := tt.call(repo)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOutboxRepository_PurgePublished(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOutboxRepository(gormDB, "intent")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `outbox` WHERE aggregate_type = \\? AND published_at IS NOT NULL AND published_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	deleted, err := repo.PurgePublished(context.Background(), time.Now().Add(-time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
