package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/api/respond"
	"github.com/notifygw/notify-gateway/internal/config"
	"github.com/notifygw/notify-gateway/internal/middlewares"
	"github.com/notifygw/notify-gateway/internal/model"
	"github.com/notifygw/notify-gateway/internal/repository/message"
	msgservice "github.com/notifygw/notify-gateway/internal/service/message"
)

// messageService defines the workflow operations the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/message/mock.go -package=mocks
type messageService interface {
	ProcessSingle(context.Context, retry.Strategy, model.Message) (model.Message, error)
	ProcessBulk(ctx context.Context, strategy retry.Strategy, recipients []string, body, correlationID string) (msgservice.BulkResult, error)
	GetStatus(context.Context, retry.Strategy, uuid.UUID) (model.Status, error)
	GetByUUID(context.Context, uuid.UUID) (model.Message, error)
	List(ctx context.Context, status, channel string) ([]model.Message, error)
	TaskStatus(ctx context.Context, taskID string) (msgservice.TaskStatus, error)
	Cancel(ctx context.Context, strategy retry.Strategy, taskID string) (bool, error)
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}

// Handler handles HTTP requests of the notification gateway.
type Handler struct {
	service   messageService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(
	s messageService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// SMSRequest is the JSON body of a single SMS send.
type SMSRequest struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message" validate:"required,max=500"`
}

// BulkSMSRequest is the JSON body of a bulk SMS send.
type BulkSMSRequest struct {
	To      []string `json:"to" validate:"required,min=1,dive,required"`
	Message string   `json:"message" validate:"required,max=500"`
}

// EmailRequest is the JSON body of an email send.
type EmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=500"`
	Body    string `json:"body" validate:"required,max=10000"`
}

// SendResponse is returned for accepted single sends.
type SendResponse struct {
	ID            uuid.UUID    `json:"id"`
	TaskID        string       `json:"task_id,omitempty"`
	Status        model.Status `json:"status"`
	CorrelationID string       `json:"correlation_id,omitempty"`
}

func (h *Handler) correlationID(c *ginext.Context) string {
	if id := c.GetString(middlewares.CorrelationIDKey); id != "" {
		return id
	}

	return c.Request.Header.Get(middlewares.CorrelationIDHeader)
}

// SendSMS handles POST /api/sms. The message is validated, persisted and
// queued for asynchronous delivery; the response carries the record and task
// ids to poll with. A repeated Idempotency-Key returns the original record.
func (h *Handler) SendSMS(c *ginext.Context) {
	var req SMSRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	m, err := model.NewSMS(req.To, req.Message, c.Request.Header.Get("Idempotency-Key"), h.correlationID(c))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	h.process(c, m)
}

// SendEmail handles POST /api/email.
func (h *Handler) SendEmail(c *ginext.Context) {
	var req EmailRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	m, err := model.NewEmail(req.To, req.Subject, req.Body, c.Request.Header.Get("Idempotency-Key"), h.correlationID(c))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	h.process(c, m)
}

func (h *Handler) process(c *ginext.Context, m model.Message) {
	processed, err := h.service.ProcessSingle(c.Request.Context(), h.cfg.Retry, m)
	if err != nil {
		var wfErr *msgservice.WorkflowError
		if errors.As(err, &wfErr) {
			respond.Fail(c.Writer, wfErr.HTTPStatus, wfErr)
			return
		}

		zlog.Logger.Error().Err(err).Str("channel", string(m.Channel)).Msg("failed to process message")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, SendResponse{
		ID:            processed.UUID,
		TaskID:        processed.TaskID,
		Status:        processed.Status,
		CorrelationID: processed.CorrelationID,
	})
}

// SendBulkSMS handles POST /api/sms/bulk. Recipients are processed
// independently; the response status reflects the aggregate: 200 when all
// succeeded, 207 on partial success, 400 when every recipient failed.
func (h *Handler) SendBulkSMS(c *ginext.Context) {
	var req BulkSMSRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	res, err := h.service.ProcessBulk(c.Request.Context(), h.cfg.Retry, req.To, req.Message, h.correlationID(c))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to process bulk send")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	status := http.StatusOK
	switch {
	case len(res.Successes) == 0:
		status = http.StatusBadRequest
	case len(res.Failures) > 0:
		status = http.StatusMultiStatus
	}

	respond.JSON(c.Writer, status, res)
}

// GetStatus handles GET /api/messages/:id, returning the lifecycle status of
// a message by its external UUID.
func (h *Handler) GetStatus(c *ginext.Context) {
	idStr := c.Param("id")
	if idStr == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, message.ErrMessageNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("message not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("id", idStr).Msg("failed to get message status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]interface{}{"id": id, "status": status})
}

// List handles GET /api/messages, optionally filtered by status and channel
// query parameters.
func (h *Handler) List(c *ginext.Context) {
	messages, err := h.service.List(c.Request.Context(), c.Query("status"), c.Query("channel"))
	if err != nil {
		if errors.Is(err, message.ErrNoMessagesFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no messages found"))
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to list messages")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, messages)
}

// TaskStatus handles GET /api/tasks/:id, the poll endpoint for dispatch
// tasks. Terminal tasks include the full message record as the result.
func (h *Handler) TaskStatus(c *ginext.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing task id"))
		return
	}

	st, err := h.service.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, message.ErrMessageNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("task not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, st)
}

// CancelTask handles POST /api/tasks/:id/cancel. Revocation is best-effort:
// the response always reports revoked, even for tasks already finished or
// unknown.
func (h *Handler) CancelTask(c *ginext.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing task id"))
		return
	}

	if _, err := h.service.Cancel(c.Request.Context(), h.cfg.Retry, taskID); err != nil {
		if !errors.Is(err, message.ErrMessageNotFound) {
			zlog.Logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			return
		}
	}

	respond.OK(c.Writer, map[string]interface{}{"task_id": taskID, "revoked": true})
}

// Health handles GET /api/sms/health, probing the SMS gateway through the
// in-process dispatch queue.
func (h *Handler) Health(c *ginext.Context) {
	res, err := h.service.HealthCheck(c.Request.Context())
	if err != nil {
		respond.Fail(c.Writer, http.StatusServiceUnavailable, err)
		return
	}

	if status, ok := res["status"].(string); ok && status == "unhealthy" {
		respond.JSON(c.Writer, http.StatusServiceUnavailable, res)
		return
	}

	respond.OK(c.Writer, res)
}
