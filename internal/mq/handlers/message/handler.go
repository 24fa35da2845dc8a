package message

import (
	"context"
	"net/http"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/backoff"
	"github.com/notifygw/notify-gateway/internal/model"
	"github.com/notifygw/notify-gateway/internal/mq/queue"
)

type dispatchService interface {
	BeginAttempt(ctx context.Context, id int64) (model.Message, bool, error)
	Send(ctx context.Context, m model.Message) (int, string)
	FinishAttempt(ctx context.Context, strategy retry.Strategy, id int64, status model.Status) error
}

type scheduler interface {
	PublishRetry(env queue.Envelope, strategy retry.Strategy) error
}

// Outcome classifies the result of one delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomePermanentFailure
)

// Handler runs delivery attempts consumed from the dispatch queue.
type Handler struct {
	service     dispatchService
	scheduler   scheduler
	backoff     backoff.Config
	maxAttempts int
	now         func() time.Time
}

// NewHandler creates a dispatch task handler. maxAttempts is the total number
// of delivery attempts, the first one included.
func NewHandler(svc dispatchService, sched scheduler, cfg backoff.Config, maxAttempts int) *Handler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Handler{
		service:     svc,
		scheduler:   sched,
		backoff:     cfg,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// HandleMessage executes one delivery attempt for the envelope.
//
// An envelope whose RetryAt is still in the future is bounced back through
// the retry queue for another TTL hop. A due envelope opens an attempt under
// the row lock, sends outside the lock and resolves the attempt according to
// the transport outcome: success goes terminal sent, a retryable failure with
// attempts left schedules the next hop, anything else goes terminal failed.
func (h *Handler) HandleMessage(ctx context.Context, env queue.Envelope, strategy retry.Strategy) {
	now := h.now()

	if !env.Due(now) {
		if err := h.scheduler.PublishRetry(env, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("task_id", env.TaskID).Msg("failed to re-park envelope in retry queue")
		}
		return
	}

	m, ok, err := h.service.BeginAttempt(ctx, env.RecordID)
	if err != nil {
		zlog.Logger.Error().Err(err).Int64("id", env.RecordID).Str("task_id", env.TaskID).Msg("failed to begin delivery attempt")
		return
	}
	if !ok {
		return
	}

	code, detail := h.service.Send(ctx, m)

	switch h.classify(code, m.Attempts) {
	case OutcomeSuccess:
		if err := h.service.FinishAttempt(ctx, strategy, m.ID, model.StatusSent); err != nil {
			zlog.Logger.Error().Err(err).Int64("id", m.ID).Msg("failed to finish delivery attempt")
			return
		}

		zlog.Logger.Info().
			Int64("id", m.ID).
			Str("task_id", env.TaskID).
			Str("correlation_id", env.CorrelationID).
			Str("channel", string(m.Channel)).
			Int("attempt", m.Attempts).
			Msg("message delivered")

	case OutcomeRetry:
		if err := h.service.FinishAttempt(ctx, strategy, m.ID, model.StatusRetry); err != nil {
			zlog.Logger.Error().Err(err).Int64("id", m.ID).Msg("failed to finish delivery attempt")
			return
		}

		env.RetryAt = now.Add(backoff.Delay(h.backoff, m.Attempts, nil))
		if err := h.scheduler.PublishRetry(env, strategy); err != nil {
			zlog.Logger.Error().Err(err).Int64("id", m.ID).Str("task_id", env.TaskID).Msg("failed to schedule retry")
			return
		}

		zlog.Logger.Warn().
			Int64("id", m.ID).
			Str("task_id", env.TaskID).
			Str("correlation_id", env.CorrelationID).
			Int("attempt", m.Attempts).
			Int("code", code).
			Str("detail", detail).
			Time("retry_at", env.RetryAt).
			Msg("delivery failed, retry scheduled")

	case OutcomePermanentFailure:
		if err := h.service.FinishAttempt(ctx, strategy, m.ID, model.StatusFailed); err != nil {
			zlog.Logger.Error().Err(err).Int64("id", m.ID).Msg("failed to finish delivery attempt")
			return
		}

		zlog.Logger.Error().
			Int64("id", m.ID).
			Str("task_id", env.TaskID).
			Str("correlation_id", env.CorrelationID).
			Int("attempt", m.Attempts).
			Int("code", code).
			Str("detail", detail).
			Msg("message delivery failed permanently")
	}
}

// classify maps a transport status code and the attempt number just made to
// the attempt outcome.
func (h *Handler) classify(code, attempt int) Outcome {
	if code == http.StatusOK {
		return OutcomeSuccess
	}
	if retryable(code) && attempt < h.maxAttempts {
		return OutcomeRetry
	}
	return OutcomePermanentFailure
}

// retryable reports whether the transport failure is transient. Auth and
// validation failures are permanent; timeouts, throttling and upstream
// errors are worth another attempt.
func retryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}
