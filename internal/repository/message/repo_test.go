package message

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/notifygw/notify-gateway/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func messageColumns() []string {
	return []string{
		"id", "uuid", "channel", "to", "subject", "body", "status",
		"task_id", "correlation_id", "attempts", "idempotency_key",
		"created_at", "updated_at",
	}
}

func addMessageRow(rows *sqlmock.Rows, m model.Message) *sqlmock.Rows {
	return rows.AddRow(
		m.ID, m.UUID, m.Channel, m.To, m.Subject, m.Body, m.Status,
		m.TaskID, m.CorrelationID, m.Attempts, m.IdempotencyKey,
		m.CreatedAt, m.UpdatedAt,
	)
}

func TestCreate(t *testing.T) {
	repo, mock := setupMockDB(t)

	m, err := model.NewSMS("+19876543210", "hi", "key-1", "corr-1")
	assert.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(`(?s)INSERT INTO messages.*RETURNING id, created_at, updated_at`).
		WithArgs(
			m.UUID, m.Channel, m.To, sql.NullString{}, m.Body, m.Status,
			sql.NullString{String: "corr-1", Valid: true},
			sql.NullString{String: "key-1", Valid: true},
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	created, err := repo.Create(context.Background(), m)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, m.UUID, created.UUID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateIdempotencyKey(t *testing.T) {
	repo, mock := setupMockDB(t)

	m, err := model.NewSMS("+19876543210", "hi", "abc123", "")
	assert.NoError(t, err)

	mock.ExpectQuery(`(?s)INSERT INTO messages`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "messages_idempotency_key_key"})

	_, err = repo.Create(context.Background(), m)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUnderLock(t *testing.T) {
	repo, mock := setupMockDB(t)

	m, err := model.NewSMS("+19876543210", "hi", "", "")
	assert.NoError(t, err)
	m.ID = 7
	m.Attempts = 1
	m.Status = model.StatusRetry

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(addMessageRow(sqlmock.NewRows(messageColumns()), m))
	mock.ExpectExec(`(?s)UPDATE messages.*SET status = \$1, attempts = \$2, task_id = \$3, updated_at = now\(\)`).
		WithArgs(model.StatusSent, 2, sql.NullString{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateUnderLock(context.Background(), 7, func(row *model.Message) error {
		row.Attempts++
		row.Status = model.StatusSent
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSent, updated.Status)
	assert.Equal(t, 2, updated.Attempts)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUnderLock_FnErrorRollsBack(t *testing.T) {
	repo, mock := setupMockDB(t)

	m, err := model.NewSMS("+19876543210", "hi", "", "")
	assert.NoError(t, err)
	m.ID = 7
	m.Status = model.StatusSent

	errSkip := errors.New("already terminal")

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(addMessageRow(sqlmock.NewRows(messageColumns()), m))
	mock.ExpectRollback()

	got, err := repo.UpdateUnderLock(context.Background(), 7, func(row *model.Message) error {
		if row.Status.Terminal() {
			return errSkip
		}
		return nil
	})
	assert.ErrorIs(t, err, errSkip)
	assert.Equal(t, model.StatusSent, got.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUnderLock_NotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*FOR UPDATE`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.UpdateUnderLock(context.Background(), 99, func(row *model.Message) error { return nil })
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIdempotencyKey(t *testing.T) {
	repo, mock := setupMockDB(t)

	m, err := model.NewSMS("+19876543210", "hi", "abc123", "")
	assert.NoError(t, err)
	m.ID = 3

	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*WHERE idempotency_key = \$1`).
		WithArgs("abc123").
		WillReturnRows(addMessageRow(sqlmock.NewRows(messageColumns()), m))

	got, err := repo.GetByIdempotencyKey(context.Background(), "abc123")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, "abc123", got.IdempotencyKey)

	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*WHERE idempotency_key = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByIdempotencyKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	repo, mock := setupMockDB(t)

	m1, _ := model.NewSMS("+19876543210", "one", "", "")
	m1.ID = 1
	m2, _ := model.NewEmail("a@example.com", "s", "two", "", "")
	m2.ID = 2

	rows := sqlmock.NewRows(messageColumns())
	addMessageRow(rows, m1)
	addMessageRow(rows, m2)

	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*ORDER BY created_at DESC`).
		WithArgs("", "").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), "", "")
	assert.NoError(t, err)
	assert.Len(t, list, 2)

	mock.ExpectQuery(`(?s)SELECT .*FROM messages.*ORDER BY created_at DESC`).
		WithArgs("sent", "sms").
		WillReturnRows(sqlmock.NewRows(messageColumns()))

	_, err = repo.List(context.Background(), "sent", "sms")
	assert.ErrorIs(t, err, ErrNoMessagesFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
