package message

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/notifygw/notify-gateway/internal/metrics"
	mocks "github.com/notifygw/notify-gateway/internal/mocks/service/message"
	"github.com/notifygw/notify-gateway/internal/model"
	"github.com/notifygw/notify-gateway/internal/mq/queue"
	"github.com/notifygw/notify-gateway/internal/repository/message"
)

var testStrategy = retry.Strategy{Attempts: 1}

type serviceMocks struct {
	repo      *mocks.MockmessageRepository
	publisher *mocks.MockPublisher
	transport *mocks.MockTransport
	cache     *mocks.Mockcache
}

func setupService(t *testing.T, withQueue bool) (*Service, serviceMocks) {
	ctrl := gomock.NewController(t)

	m := serviceMocks{
		repo:      mocks.NewMockmessageRepository(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
		transport: mocks.NewMockTransport(ctrl),
		cache:     mocks.NewMockcache(ctrl),
	}

	transports := map[model.Channel]Transport{
		model.ChannelSMS:   m.transport,
		model.ChannelEmail: m.transport,
	}

	var svc *Service
	if withQueue {
		svc = NewService(m.repo, m.publisher, transports, m.cache, nil, nil)
	} else {
		svc = NewService(m.repo, nil, transports, m.cache, nil, nil)
	}

	return svc, m
}

func newTestSMS(t *testing.T, idemKey string) model.Message {
	t.Helper()

	m, err := model.NewSMS("+19876543210", "hello", idemKey, "corr-1")
	assert.NoError(t, err)
	return m
}

func TestProcessSingle_Queued(t *testing.T) {
	svc, m := setupService(t, true)
	sms := newTestSMS(t, "")

	created := sms
	created.ID = 42

	m.repo.EXPECT().Create(gomock.Any(), sms).Return(created, nil)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), created.UUID.String(), gomock.Any()).Return(nil)

	var published queue.Envelope
	m.publisher.EXPECT().
		Publish(gomock.Any(), testStrategy).
		DoAndReturn(func(env queue.Envelope, _ retry.Strategy) error {
			published = env
			return nil
		})

	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(42), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			row := created
			if err := fn(&row); err != nil {
				return row, err
			}
			return row, nil
		})

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.NotEmpty(t, got.TaskID)
	assert.Equal(t, got.TaskID, published.TaskID)
	assert.Equal(t, int64(42), published.RecordID)
	assert.Equal(t, created.UUID, published.UUID)
}

func TestProcessSingle_IdempotentReplay(t *testing.T) {
	svc, m := setupService(t, true)
	sms := newTestSMS(t, "key-1")

	existing := sms
	existing.ID = 7
	existing.Status = model.StatusSent

	// The original record comes back; no new row and no new task.
	m.repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "key-1").Return(existing, nil)

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestProcessSingle_DuplicateOnCreate(t *testing.T) {
	svc, m := setupService(t, true)
	sms := newTestSMS(t, "key-2")

	existing := sms
	existing.ID = 9

	// Lookup misses, then the insert loses the race: the winner's record is
	// returned.
	gomock.InOrder(
		m.repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "key-2").Return(model.Message{}, message.ErrMessageNotFound),
		m.repo.EXPECT().Create(gomock.Any(), sms).Return(model.Message{}, message.ErrDuplicateIdempotencyKey),
		m.repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "key-2").Return(existing, nil),
	)

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)
}

func TestProcessSingle_DirectSendWhenQueueUnavailable(t *testing.T) {
	svc, m := setupService(t, false)
	sms := newTestSMS(t, "")

	created := sms
	created.ID = 5

	m.repo.EXPECT().Create(gomock.Any(), sms).Return(created, nil)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), created.UUID.String(), gomock.Any()).Return(nil).Times(2)
	m.transport.EXPECT().Send(gomock.Any(), created).Return(http.StatusOK, "delivered")
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(5), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			row := created
			if err := fn(&row); err != nil {
				return row, err
			}
			return row, nil
		})

	before := testutil.ToFloat64(metrics.Sent.WithLabelValues("sms"))

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Sent.WithLabelValues("sms")))
}

func TestProcessSingle_DirectSendFailure(t *testing.T) {
	svc, m := setupService(t, false)
	sms := newTestSMS(t, "")

	created := sms
	created.ID = 6

	m.repo.EXPECT().Create(gomock.Any(), sms).Return(created, nil)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), created.UUID.String(), gomock.Any()).Return(nil).Times(2)
	m.transport.EXPECT().Send(gomock.Any(), created).Return(http.StatusBadGateway, "connection refused")
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(6), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			row := created
			if err := fn(&row); err != nil {
				return row, err
			}
			return row, nil
		})

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.Error(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	var wfErr *WorkflowError
	assert.ErrorAs(t, err, &wfErr)
	assert.Equal(t, http.StatusBadRequest, wfErr.HTTPStatus)
}

func TestProcessSingle_PublishFailureFallsBackToDirectSend(t *testing.T) {
	svc, m := setupService(t, true)
	sms := newTestSMS(t, "")

	created := sms
	created.ID = 8

	m.repo.EXPECT().Create(gomock.Any(), sms).Return(created, nil)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), created.UUID.String(), gomock.Any()).Return(nil).Times(2)
	m.publisher.EXPECT().Publish(gomock.Any(), testStrategy).Return(errors.New("broker down"))
	m.transport.EXPECT().Send(gomock.Any(), created).Return(http.StatusOK, "delivered")
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(8), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			row := created
			if err := fn(&row); err != nil {
				return row, err
			}
			return row, nil
		})

	got, err := svc.ProcessSingle(context.Background(), testStrategy, sms)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Empty(t, got.TaskID)
}

func TestBeginAttempt(t *testing.T) {
	svc, m := setupService(t, true)

	row := model.Message{ID: 1, Status: model.StatusQueued, Attempts: 0}
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})

	got, ok, err := svc.BeginAttempt(context.Background(), 1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, got.Attempts)
}

func TestBeginAttempt_SkipsTerminal(t *testing.T) {
	svc, m := setupService(t, true)

	row := model.Message{ID: 2, Status: model.StatusCancelled, Attempts: 1}
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(2), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})

	got, ok, err := svc.BeginAttempt(context.Background(), 2)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, got.Attempts)
}

func TestBeginAttempt_RecordMissing(t *testing.T) {
	svc, m := setupService(t, true)

	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(3), gomock.Any()).
		Return(model.Message{}, message.ErrMessageNotFound)

	_, ok, err := svc.BeginAttempt(context.Background(), 3)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFinishAttempt_TerminalGuard(t *testing.T) {
	svc, m := setupService(t, true)

	// The row went sent while this resolution was in flight; the redelivered
	// resolution must leave it alone.
	row := model.Message{ID: 4, Status: model.StatusSent}
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(4), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})

	err := svc.FinishAttempt(context.Background(), testStrategy, 4, model.StatusFailed)
	assert.NoError(t, err)
}

func TestFinishAttempt_FailedIncrementsFailureCounter(t *testing.T) {
	svc, m := setupService(t, true)

	row := model.Message{ID: 5, UUID: uuid.New(), Channel: model.ChannelSMS, Status: model.StatusRetry}
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(5), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), row.UUID.String(), gomock.Any()).Return(nil)

	failedBefore := testutil.ToFloat64(metrics.Failed.WithLabelValues("sms"))
	sentBefore := testutil.ToFloat64(metrics.Sent.WithLabelValues("sms"))

	err := svc.FinishAttempt(context.Background(), testStrategy, 5, model.StatusFailed)
	assert.NoError(t, err)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.Failed.WithLabelValues("sms")))
	assert.Equal(t, sentBefore, testutil.ToFloat64(metrics.Sent.WithLabelValues("sms")))
}

func TestCancel(t *testing.T) {
	svc, m := setupService(t, true)

	row := model.Message{ID: 10, UUID: uuid.New(), Status: model.StatusRetry, TaskID: "t-10"}
	m.repo.EXPECT().GetByTaskID(gomock.Any(), "t-10").Return(row, nil)
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(10), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), row.UUID.String(), gomock.Any()).Return(nil)

	revoked, err := svc.Cancel(context.Background(), testStrategy, "t-10")
	assert.NoError(t, err)
	assert.True(t, revoked)
}

func TestCancel_AlreadySent(t *testing.T) {
	svc, m := setupService(t, true)

	row := model.Message{ID: 11, UUID: uuid.New(), Status: model.StatusSent, TaskID: "t-11"}
	m.repo.EXPECT().GetByTaskID(gomock.Any(), "t-11").Return(row, nil)
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(11), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			r := row
			if err := fn(&r); err != nil {
				return r, err
			}
			return r, nil
		})

	// The send is not undone, but revocation is still acknowledged.
	revoked, err := svc.Cancel(context.Background(), testStrategy, "t-11")
	assert.NoError(t, err)
	assert.True(t, revoked)
}

func TestTaskStatus(t *testing.T) {
	svc, m := setupService(t, true)

	cases := []struct {
		status model.Status
		state  TaskState
		result bool
	}{
		{model.StatusQueued, TaskStatePending, false},
		{model.StatusRetry, TaskStateRetry, false},
		{model.StatusSent, TaskStateSuccess, true},
		{model.StatusFailed, TaskStateFailure, true},
		{model.StatusCancelled, TaskStateRevoked, true},
	}

	for _, tc := range cases {
		row := model.Message{ID: 1, Status: tc.status, TaskID: "t-1"}
		m.repo.EXPECT().GetByTaskID(gomock.Any(), "t-1").Return(row, nil)

		st, err := svc.TaskStatus(context.Background(), "t-1")
		assert.NoError(t, err)
		assert.Equal(t, tc.state, st.State)
		assert.Equal(t, tc.result, st.Result != nil, "status %s", tc.status)
	}
}

func TestGetStatus_CacheHit(t *testing.T) {
	svc, m := setupService(t, true)

	id := uuid.New()
	m.cache.EXPECT().GetWithRetry(gomock.Any(), gomock.Any(), id.String()).Return("sent", nil)

	status, err := svc.GetStatus(context.Background(), testStrategy, id)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSent, status)
}

func TestGetStatus_CacheMissFallsBackToRepo(t *testing.T) {
	svc, m := setupService(t, true)

	id := uuid.New()
	m.cache.EXPECT().GetWithRetry(gomock.Any(), gomock.Any(), id.String()).Return("", redis.Nil)
	m.repo.EXPECT().GetByUUID(gomock.Any(), id).Return(model.Message{UUID: id, Status: model.StatusRetry}, nil)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), id.String(), gomock.Any()).Return(nil)

	status, err := svc.GetStatus(context.Background(), testStrategy, id)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusRetry, status)
}

func TestProcessBulk(t *testing.T) {
	svc, m := setupService(t, false)

	// Two valid recipients, one invalid number.
	m.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg model.Message) (model.Message, error) {
			msg.ID = 1
			return msg, nil
		}).Times(2)
	m.cache.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(http.StatusOK, "delivered").Times(2)
	m.repo.EXPECT().
		UpdateUnderLock(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, fn func(*model.Message) error) (model.Message, error) {
			row := model.Message{ID: 1, Channel: model.ChannelSMS}
			if err := fn(&row); err != nil {
				return row, err
			}
			return row, nil
		}).Times(2)

	res, err := svc.ProcessBulk(context.Background(), testStrategy, []string{"+19876543210", "not-a-number", "+19876543211"}, "hello", "corr-b")
	assert.NoError(t, err)
	assert.Equal(t, 3, res.Requested)
	assert.Len(t, res.Successes, 2)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, http.StatusBadRequest, res.Failures[0].StatusCode)
}

// lockingRepo is an in-memory messageRepository with real row locking, used
// to show concurrent attempt bookkeeping cannot lose updates.
type lockingRepo struct {
	mu   sync.Mutex
	rows map[int64]model.Message
}

func (r *lockingRepo) Create(_ context.Context, m model.Message) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = int64(len(r.rows) + 1)
	r.rows[m.ID] = m
	return m, nil
}

func (r *lockingRepo) GetByUUID(context.Context, uuid.UUID) (model.Message, error) {
	return model.Message{}, message.ErrMessageNotFound
}

func (r *lockingRepo) GetByTaskID(context.Context, string) (model.Message, error) {
	return model.Message{}, message.ErrMessageNotFound
}

func (r *lockingRepo) GetByIdempotencyKey(context.Context, string) (model.Message, error) {
	return model.Message{}, message.ErrMessageNotFound
}

func (r *lockingRepo) List(context.Context, string, string) ([]model.Message, error) {
	return nil, message.ErrNoMessagesFound
}

func (r *lockingRepo) UpdateUnderLock(_ context.Context, id int64, fn func(*model.Message) error) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return model.Message{}, message.ErrMessageNotFound
	}

	if err := fn(&row); err != nil {
		return row, err
	}

	r.rows[id] = row
	return row, nil
}

func TestBeginAttempt_ConcurrentIncrementsAreSerialized(t *testing.T) {
	ctrl := gomock.NewController(t)
	cacheMock := mocks.NewMockcache(ctrl)
	cacheMock.EXPECT().SetWithRetry(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	repo := &lockingRepo{rows: map[int64]model.Message{
		1: {ID: 1, Status: model.StatusQueued},
	}}
	svc := NewService(repo, nil, nil, cacheMock, nil, nil)

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = svc.BeginAttempt(context.Background(), 1)
		}()
	}
	wg.Wait()

	got, _ := repo.UpdateUnderLock(context.Background(), 1, func(*model.Message) error { return nil })
	assert.Equal(t, workers, got.Attempts)
}
