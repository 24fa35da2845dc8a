package message

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/dispatch"
	"github.com/notifygw/notify-gateway/internal/metrics"
	"github.com/notifygw/notify-gateway/internal/model"
	"github.com/notifygw/notify-gateway/internal/mq/queue"
	"github.com/notifygw/notify-gateway/internal/repository/message"
)

//go:generate mockgen -source=service.go -destination=../../mocks/service/message/mock.go -package=mocks

type messageRepository interface {
	Create(context.Context, model.Message) (model.Message, error)
	GetByUUID(context.Context, uuid.UUID) (model.Message, error)
	GetByTaskID(context.Context, string) (model.Message, error)
	GetByIdempotencyKey(context.Context, string) (model.Message, error)
	List(ctx context.Context, status, channel string) ([]model.Message, error)
	UpdateUnderLock(context.Context, int64, func(*model.Message) error) (model.Message, error)
}

// Publisher enqueues dispatch envelopes for the durable task runner.
type Publisher interface {
	Publish(env queue.Envelope, strategy retry.Strategy) error
	PublishRetry(env queue.Envelope, strategy retry.Strategy) error
}

// Transport sends one message through an external gateway and reports an
// HTTP-style status code plus a detail string.
type Transport interface {
	Send(ctx context.Context, m model.Message) (int, string)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// WorkflowError is a workflow failure with an error code and the HTTP status
// it should surface as.
type WorkflowError struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *WorkflowError) Error() string { return e.Message }

// TaskState mirrors the lifecycle of a dispatch task as seen by pollers.
type TaskState string

const (
	TaskStatePending TaskState = "PENDING"
	TaskStateRetry   TaskState = "RETRY"
	TaskStateSuccess TaskState = "SUCCESS"
	TaskStateFailure TaskState = "FAILURE"
	TaskStateRevoked TaskState = "REVOKED"
)

// TaskStatus is the poll result for a dispatch task.
type TaskStatus struct {
	ID     string         `json:"id"`
	State  TaskState      `json:"state"`
	Result *model.Message `json:"result,omitempty"` // set once the task is terminal
}

// BulkItem is the per-recipient outcome of a bulk send.
type BulkItem struct {
	To         string    `json:"to"`
	RecordID   int64     `json:"record_id,omitempty"`
	UUID       uuid.UUID `json:"uuid,omitempty"`
	TaskQueued bool      `json:"task_queued,omitempty"`
	DirectSend bool      `json:"direct_send,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// BulkResult aggregates the outcomes of a bulk send.
type BulkResult struct {
	Successes []BulkItem `json:"successes"`
	Failures  []BulkItem `json:"failures"`
	Requested int        `json:"requested"`
}

// errSkipAttempt aborts an UpdateUnderLock without treating it as a failure:
// the row is already terminal (or cancelled), so this attempt must not run.
var errSkipAttempt = errors.New("attempt skipped")

// Service orchestrates the message dispatch workflow.
type Service struct {
	repo       messageRepository
	queue      Publisher // nil when the durable runner is unconfigured
	transports map[model.Channel]Transport
	cache      cache
	dq         *dispatch.Queue
	healthFn   func(ctx context.Context) (map[string]interface{}, error)
}

// NewService creates the workflow orchestrator. queue may be nil, in which
// case every send takes the synchronous direct path.
func NewService(
	repo messageRepository,
	q Publisher,
	transports map[model.Channel]Transport,
	c cache,
	dq *dispatch.Queue,
	healthFn func(ctx context.Context) (map[string]interface{}, error),
) *Service {
	return &Service{
		repo:       repo,
		queue:      q,
		transports: transports,
		cache:      c,
		dq:         dq,
		healthFn:   healthFn,
	}
}

// ProcessSingle runs the full lifecycle of one message:
// idempotency check, persistence, async enqueue (with the task id recorded
// under lock) and, when the durable runner is unavailable or the enqueue
// fails, a synchronous direct send.
//
// On the async path the returned message is still queued and the caller must
// poll. On the direct path the returned message carries the final status; a
// failed direct send also returns a WorkflowError.
func (s *Service) ProcessSingle(ctx context.Context, strategy retry.Strategy, m model.Message) (model.Message, error) {
	// Idempotent short-circuit: a repeated request with the same key returns
	// the original record and triggers no new send.
	if m.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, m.IdempotencyKey)
		if err == nil {
			zlog.Logger.Info().Str("idempotency_key", m.IdempotencyKey).Msg("idempotent request: message already processed")
			return existing, nil
		}
		if !errors.Is(err, message.ErrMessageNotFound) {
			return model.Message{}, &WorkflowError{Code: "SERVER_ERROR", HTTPStatus: http.StatusInternalServerError, Message: "failed to check idempotency key"}
		}
	}

	created, err := s.repo.Create(ctx, m)
	if err != nil {
		// Two requests raced past the lookup; the unique constraint decides
		// the winner and the loser returns the winner's record.
		if errors.Is(err, message.ErrDuplicateIdempotencyKey) {
			return s.repo.GetByIdempotencyKey(ctx, m.IdempotencyKey)
		}

		zlog.Logger.Error().Err(err).Str("channel", string(m.Channel)).Msg("failed to create message record")
		return model.Message{}, &WorkflowError{Code: "SERVER_ERROR", HTTPStatus: http.StatusInternalServerError, Message: "internal server error"}
	}

	metrics.Queued.WithLabelValues(string(created.Channel)).Inc()
	s.cacheStatus(ctx, strategy, created.UUID, created.Status)

	if s.queue != nil {
		taskID := uuid.NewString()
		env := queue.Envelope{
			RecordID:      created.ID,
			UUID:          created.UUID,
			Channel:       created.Channel,
			TaskID:        taskID,
			CorrelationID: created.CorrelationID,
		}

		if err := s.queue.Publish(env, strategy); err == nil {
			updated, lockErr := s.repo.UpdateUnderLock(ctx, created.ID, func(row *model.Message) error {
				row.TaskID = taskID
				return nil
			})
			if lockErr != nil {
				zlog.Logger.Error().Err(lockErr).Int64("id", created.ID).Msg("failed to record task id")
				created.TaskID = taskID
				return created, nil
			}

			zlog.Logger.Info().Int64("id", updated.ID).Str("task_id", taskID).Str("channel", string(updated.Channel)).Msg("message queued for dispatch")
			return updated, nil
		}

		zlog.Logger.Error().Err(err).Int64("id", created.ID).Msg("failed to publish dispatch task, falling back to direct send")
	}

	return s.directSend(ctx, strategy, created)
}

// directSend is the synchronous fallback: one transport call, then the final
// status is persisted under lock before returning.
func (s *Service) directSend(ctx context.Context, strategy retry.Strategy, m model.Message) (model.Message, error) {
	code, detail := s.Send(ctx, m)

	status := model.StatusFailed
	if code == http.StatusOK {
		status = model.StatusSent
	}

	updated, err := s.repo.UpdateUnderLock(ctx, m.ID, func(row *model.Message) error {
		row.Attempts++
		row.Status = status
		return nil
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Int64("id", m.ID).Msg("failed to persist direct send result")
		return model.Message{}, &WorkflowError{Code: "SERVER_ERROR", HTTPStatus: http.StatusInternalServerError, Message: "internal server error"}
	}

	s.cacheStatus(ctx, strategy, updated.UUID, updated.Status)

	if status == model.StatusSent {
		metrics.Sent.WithLabelValues(string(m.Channel)).Inc()
		zlog.Logger.Info().Int64("id", m.ID).Str("channel", string(m.Channel)).Msg("message sent directly")
		return updated, nil
	}

	metrics.Failed.WithLabelValues(string(m.Channel)).Inc()
	zlog.Logger.Error().Int64("id", m.ID).Int("code", code).Str("detail", detail).Msg("direct send failed")
	return updated, &WorkflowError{Code: "SEND_FAILED", HTTPStatus: http.StatusBadRequest, Message: "failed to send message"}
}

// ProcessBulk sends one SMS per recipient, reporting per-recipient outcomes.
func (s *Service) ProcessBulk(ctx context.Context, strategy retry.Strategy, recipients []string, body, correlationID string) (BulkResult, error) {
	res := BulkResult{Requested: len(recipients)}

	for _, to := range recipients {
		m, err := model.NewSMS(to, body, "", correlationID)
		if err != nil {
			res.Failures = append(res.Failures, BulkItem{To: to, StatusCode: http.StatusBadRequest, Error: err.Error()})
			continue
		}

		processed, err := s.ProcessSingle(ctx, strategy, m)
		if err != nil {
			var wfErr *WorkflowError
			code := http.StatusInternalServerError
			if errors.As(err, &wfErr) {
				code = wfErr.HTTPStatus
			}
			res.Failures = append(res.Failures, BulkItem{To: to, RecordID: processed.ID, UUID: processed.UUID, StatusCode: code, Error: err.Error()})
			continue
		}

		res.Successes = append(res.Successes, BulkItem{
			To:         to,
			RecordID:   processed.ID,
			UUID:       processed.UUID,
			TaskQueued: processed.TaskID != "" && !processed.Status.Terminal(),
			DirectSend: processed.Status.Terminal(),
		})
	}

	return res, nil
}

// GetStatus returns the lifecycle status of a message, reading through the
// Redis cache.
func (s *Service) GetStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Status, error) {
	status, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get message status from cache")
	}

	if err != nil {
		m, repoErr := s.repo.GetByUUID(ctx, id)
		if repoErr != nil {
			return "", fmt.Errorf("get message status: %w", repoErr)
		}

		s.cacheStatus(ctx, strategy, id, m.Status)
		return m.Status, nil
	}

	return model.Status(status), nil
}

// GetByUUID returns the full message record.
func (s *Service) GetByUUID(ctx context.Context, id uuid.UUID) (model.Message, error) {
	m, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return model.Message{}, fmt.Errorf("get message: %w", err)
	}

	return m, nil
}

// List returns messages filtered by status and channel (empty means no filter).
func (s *Service) List(ctx context.Context, status, channel string) ([]model.Message, error) {
	messages, err := s.repo.List(ctx, status, channel)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return messages, nil
}

// TaskStatus reports the state of a dispatch task for pollers.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	m, err := s.repo.GetByTaskID(ctx, taskID)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("get task: %w", err)
	}

	st := TaskStatus{ID: taskID}
	switch m.Status {
	case model.StatusQueued:
		st.State = TaskStatePending
	case model.StatusRetry:
		st.State = TaskStateRetry
	case model.StatusSent:
		st.State = TaskStateSuccess
	case model.StatusFailed:
		st.State = TaskStateFailure
	case model.StatusCancelled:
		st.State = TaskStateRevoked
	}

	if m.Status.Terminal() {
		st.Result = &m
	}

	return st, nil
}

// Cancel requests termination of a dispatch task. Cancellation is
// best-effort: a message still queued or retrying is cancelled, a message
// already past delivery keeps its terminal status. The revoked flag reports
// that the request was accepted, not that the send was undone.
func (s *Service) Cancel(ctx context.Context, strategy retry.Strategy, taskID string) (bool, error) {
	m, err := s.repo.GetByTaskID(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}

	updated, err := s.repo.UpdateUnderLock(ctx, m.ID, func(row *model.Message) error {
		if row.Status.Terminal() {
			return errSkipAttempt
		}
		row.Status = model.StatusCancelled
		return nil
	})
	if err != nil && !errors.Is(err, errSkipAttempt) {
		return false, fmt.Errorf("cancel task: %w", err)
	}

	if err == nil {
		s.cacheStatus(ctx, strategy, updated.UUID, updated.Status)
		zlog.Logger.Info().Str("task_id", taskID).Int64("id", updated.ID).Msg("dispatch task cancelled")
	}

	return true, nil
}

// BeginAttempt opens a delivery attempt for the given record: under the row
// lock it increments attempts and returns the snapshot the attempt must work
// with. It reports ok=false when the attempt must not run (record missing,
// already terminal, or cancelled) — redelivered tasks hit this path.
func (s *Service) BeginAttempt(ctx context.Context, id int64) (model.Message, bool, error) {
	m, err := s.repo.UpdateUnderLock(ctx, id, func(row *model.Message) error {
		if row.Status.Terminal() {
			return errSkipAttempt
		}
		row.Attempts++
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipAttempt) {
			zlog.Logger.Info().Int64("id", id).Str("status", string(m.Status)).Msg("skipping attempt: message already terminal")
			return m, false, nil
		}
		if errors.Is(err, message.ErrMessageNotFound) {
			zlog.Logger.Warn().Int64("id", id).Msg("skipping attempt: record not found")
			return model.Message{}, false, nil
		}

		return model.Message{}, false, fmt.Errorf("begin attempt: %w", err)
	}

	return m, true, nil
}

// Send routes one delivery attempt to the channel's transport.
func (s *Service) Send(ctx context.Context, m model.Message) (int, string) {
	transport, ok := s.transports[m.Channel]
	if !ok {
		return http.StatusBadRequest, fmt.Sprintf("unknown channel %s", m.Channel)
	}

	return transport.Send(ctx, m)
}

// FinishAttempt resolves a delivery attempt to the given status under the
// row lock. A row that went terminal in the meantime is left untouched, which
// makes redelivered resolutions harmless.
func (s *Service) FinishAttempt(ctx context.Context, strategy retry.Strategy, id int64, status model.Status) error {
	updated, err := s.repo.UpdateUnderLock(ctx, id, func(row *model.Message) error {
		if row.Status.Terminal() {
			return errSkipAttempt
		}
		row.Status = status
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipAttempt) {
			return nil
		}

		return fmt.Errorf("finish attempt: %w", err)
	}

	switch status {
	case model.StatusSent:
		metrics.Sent.WithLabelValues(string(updated.Channel)).Inc()
	case model.StatusFailed:
		metrics.Failed.WithLabelValues(string(updated.Channel)).Inc()
	}

	s.cacheStatus(ctx, strategy, updated.UUID, updated.Status)
	return nil
}

// HealthCheck runs the gateway health probe through the high-priority tier
// of the in-process dispatch queue. If admission is denied the probe stays
// queued and the caller is told so.
func (s *Service) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	if s.dq == nil {
		return s.healthFn(ctx)
	}

	h := s.dq.Enqueue(s.healthFn, true)

	for {
		select {
		case res := <-h.Done:
			return res.Value, res.Err
		default:
		}

		if !s.dq.ProcessNext(ctx) {
			break
		}
	}

	select {
	case res := <-h.Done:
		return res.Value, res.Err
	default:
		return map[string]interface{}{
			"status":       "queued",
			"queue_length": s.dq.Len(),
		}, nil
	}
}

func (s *Service) cacheStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status) {
	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache message status")
	}
}
