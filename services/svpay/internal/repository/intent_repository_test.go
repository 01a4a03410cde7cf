package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/studentverse/pkg/kafka"
	"example.com/studentverse/services/svpay/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock
}

var intentColumns = []string{
	"id", "status", "original_amount", "discounted_amount",
	"reason_code", "idempotency_key", "created_at", "updated_at",
}

const selectForUpdate = "SELECT \\* FROM `payment_intents` WHERE id = \\?.*FOR UPDATE"

// =====================================
// Тесты Create
// =====================================

func TestIntentRepository_Create(t *testing.T) {
	amount := decimal.RequireFromString("25.00")
	discount, err := domain.NewDiscount(amount, decimal.RequireFromString("21.25"), "STUDENT_DISCOUNT_15")
	require.NoError(t, err)

	tests := []struct {
		name        string
		opts        []GormOption
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "без outbox",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_intents`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "с событием в outbox",
			opts: []GormOption{WithOutbox(kafka.TopicIntentEvents)},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_intents`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "дубликат ID",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_intents`")).
					WillReturnError(errors.New("Error 1062: Duplicate entry 'intent-1' for key 'PRIMARY'"))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrDuplicateIntent,
		},
		{
			name: "ошибка outbox откатывает интент",
			opts: []GormOption{WithOutbox(kafka.TopicIntentEvents)},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_intents`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := NewIntentRepository(gormDB, tt.opts...)
			tt.mockSetup(mock)

			intent, err := domain.NewPaymentIntent("intent-1", amount, discount)
			require.NoError(t, err)

			err = repo.Create(context.Background(), intent)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты GetByID
// =====================================

func TestIntentRepository_GetByID(t *testing.T) {
	now := time.Now()

	t.Run("интент со скидкой", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewIntentRepository(gormDB)

		mock.ExpectQuery("SELECT \\* FROM `payment_intents` WHERE id = \\?").
			WillReturnRows(sqlmock.NewRows(intentColumns).
				AddRow("intent-1", "AUTHORIZED", "25.00", "21.25", "STUDENT_DISCOUNT_15", "key-1", now, now))

		got, err := repo.GetByID(context.Background(), "intent-1")

		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusAuthorized, got.Status)
		require.NotNil(t, got.Discount)
		assert.Equal(t, "21.25", got.Discount.Amount.StringFixed(2))
		assert.Equal(t, "STUDENT_DISCOUNT_15", got.Discount.ReasonCode)
		assert.Equal(t, "key-1", got.IdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("интент без скидки", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewIntentRepository(gormDB)

		mock.ExpectQuery("SELECT \\* FROM `payment_intents` WHERE id = \\?").
			WillReturnRows(sqlmock.NewRows(intentColumns).
				AddRow("intent-2", "VOIDED", "50.00", nil, nil, nil, now, now))

		got, err := repo.GetByID(context.Background(), "intent-2")

		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusVoided, got.Status)
		assert.Nil(t, got.Discount)
		assert.Empty(t, got.IdempotencyKey)
	})

	t.Run("не найден", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewIntentRepository(gormDB)

		mock.ExpectQuery("SELECT \\* FROM `payment_intents` WHERE id = \\?").
			WillReturnRows(sqlmock.NewRows(intentColumns))

		_, err := repo.GetByID(context.Background(), "nonexistent-id")

		assert.ErrorIs(t, err, domain.ErrIntentNotFound)
	})
}

// =====================================
// Тесты Transition
// =====================================

func TestIntentRepository_Transition(t *testing.T) {
	now := time.Now()

	authorizedRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(intentColumns).
			AddRow("intent-1", "AUTHORIZED", "25.00", nil, nil, nil, now, now)
	}

	tests := []struct {
		name        string
		to          domain.IntentStatus
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "confirm из AUTHORIZED",
			to:   domain.IntentStatusConfirmed,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdate).WillReturnRows(authorizedRow())
				mock.ExpectExec(regexp.QuoteMeta("UPDATE `payment_intents` SET")).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "void из CONFIRMED",
			to:   domain.IntentStatusVoided,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdate).WillReturnRows(sqlmock.NewRows(intentColumns).
					AddRow("intent-1", "CONFIRMED", "25.00", nil, nil, nil, now, now))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrInvalidTransition,
		},
		{
			name: "интент не найден",
			to:   domain.IntentStatusConfirmed,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdate).WillReturnRows(sqlmock.NewRows(intentColumns))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrIntentNotFound,
		},
		{
			name: "статус изменён параллельно",
			to:   domain.IntentStatusConfirmed,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdate).WillReturnRows(authorizedRow())
				mock.ExpectExec(regexp.QuoteMeta("UPDATE `payment_intents` SET")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrInvalidTransition,
		},
		{
			name: "ошибка БД",
			to:   domain.IntentStatusVoided,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdate).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := NewIntentRepository(gormDB, WithOutbox(kafka.TopicIntentEvents))
			tt.mockSetup(mock)

			got, err := repo.Transition(context.Background(), "intent-1", tt.to)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, got.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIntentRepository_Reset(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewIntentRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `payment_intents`")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
