package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/notifygw/notify-gateway/internal/model"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNoMessagesFound = errors.New("no messages found")

	// ErrDuplicateIdempotencyKey means a row with the same idempotency key
	// already exists; callers must treat this as idempotent success.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

const selectColumns = `id, uuid, channel, "to", subject, body, status, task_id, correlation_id, attempts, idempotency_key, created_at, updated_at`

// Repository provides methods to interact with the messages table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new message repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new message and returns it with its assigned id.
//
// An idempotency key collision returns ErrDuplicateIdempotencyKey and
// leaves no new row behind.
func (r *Repository) Create(ctx context.Context, m model.Message) (model.Message, error) {
	query := `
		INSERT INTO messages (
		    uuid, channel, "to", subject, body, status, correlation_id, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at;
    `

	err := r.db.Master.QueryRowContext(
		ctx, query,
		m.UUID, m.Channel, m.To, nullable(m.Subject), m.Body, m.Status,
		nullable(m.CorrelationID), nullable(m.IdempotencyKey),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.Message{}, ErrDuplicateIdempotencyKey
		}

		return model.Message{}, fmt.Errorf("failed to create message: %w", err)
	}

	return m, nil
}

// UpdateUnderLock runs fn against the row identified by id while holding an
// exclusive row lock, then persists status, attempts and task_id in the same
// transaction. All concurrent read-modify-write sequences against one id are
// serialized by the lock, so attempts/status transitions cannot lose updates.
//
// If fn returns an error the transaction is rolled back; the selected row is
// still returned so callers can inspect the state they observed.
func (r *Repository) UpdateUnderLock(ctx context.Context, id int64, fn func(*model.Message) error) (model.Message, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE id = $1
		FOR UPDATE;
    `, selectColumns)

	m, err := scanMessage(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, ErrMessageNotFound
		}

		return model.Message{}, fmt.Errorf("failed to lock message: %w", err)
	}

	if err := fn(&m); err != nil {
		return m, err
	}

	update := `
		UPDATE messages
		SET status = $1, attempts = $2, task_id = $3, updated_at = now()
		WHERE id = $4;
    `

	if _, err := tx.ExecContext(ctx, update, m.Status, m.Attempts, nullable(m.TaskID), m.ID); err != nil {
		return model.Message{}, fmt.Errorf("failed to update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("failed to commit message update: %w", err)
	}

	return m, nil
}

// GetByUUID retrieves a message by its external UUID.
func (r *Repository) GetByUUID(ctx context.Context, id uuid.UUID) (model.Message, error) {
	return r.getBy(ctx, "uuid = $1", id)
}

// GetByTaskID retrieves the message handled by the given dispatch task.
func (r *Repository) GetByTaskID(ctx context.Context, taskID string) (model.Message, error) {
	return r.getBy(ctx, "task_id = $1", taskID)
}

// GetByIdempotencyKey retrieves a message by its idempotency key.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (model.Message, error) {
	return r.getBy(ctx, "idempotency_key = $1", key)
}

func (r *Repository) getBy(ctx context.Context, where string, arg interface{}) (model.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE %s;
    `, selectColumns, where)

	m, err := scanMessage(r.db.Master.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, ErrMessageNotFound
		}

		return model.Message{}, fmt.Errorf("failed to get message: %w", err)
	}

	return m, nil
}

// List retrieves messages ordered by creation time descending, optionally
// filtered by status and channel.
func (r *Repository) List(ctx context.Context, status, channel string) ([]model.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR channel = $2)
		ORDER BY created_at DESC;
    `, selectColumns)

	rows, err := r.db.QueryContext(ctx, query, status, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	if len(messages) == 0 {
		return nil, ErrNoMessagesFound
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m       model.Message
		subject sql.NullString
		taskID  sql.NullString
		corrID  sql.NullString
		idemKey sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.UUID, &m.Channel, &m.To, &subject, &m.Body, &m.Status,
		&taskID, &corrID, &m.Attempts, &idemKey, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}

	m.Subject = subject.String
	m.TaskID = taskID.String
	m.CorrelationID = corrID.String
	m.IdempotencyKey = idemKey.String

	return m, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
