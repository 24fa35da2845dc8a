// Package dispatch implements the in-process, best-effort dispatch queue.
//
// It holds two FIFO tiers (high priority for health checks, normal for
// everything else) behind a windowed admission counter. The queue is not
// durable: a restart loses whatever is still queued. It exists for burst
// shedding when the durable task runner is unavailable; there is no
// background drain loop, tasks only run on admission checks.
package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/notifygw/notify-gateway/internal/ratelimit"
)

const admissionKey = "dispatch-queue"

// Result carries the outcome of a queued task back to its handle.
type Result struct {
	Value map[string]interface{}
	Err   error
}

// Handle identifies an enqueued task and lets the caller wait for its result.
type Handle struct {
	ID   string
	Done <-chan Result
}

type task struct {
	id   string
	high bool
	run  func(ctx context.Context) (map[string]interface{}, error)
	done chan Result
}

// Queue is the in-memory two-tier dispatch queue.
type Queue struct {
	tasks chan *task // normal tier
	high  chan *task // health-check tier, drained first

	counter   ratelimit.Counter
	rateLimit int
	window    int // seconds
}

// New creates a dispatch queue admitting rateLimit tasks per windowSecs.
func New(counter ratelimit.Counter, rateLimit, windowSecs int) *Queue {
	if rateLimit <= 0 {
		rateLimit = 100
	}
	if windowSecs <= 0 {
		windowSecs = 60
	}
	return &Queue{
		tasks:     make(chan *task, 1024),
		high:      make(chan *task, 64),
		counter:   counter,
		rateLimit: rateLimit,
		window:    windowSecs,
	}
}

// Enqueue adds a task to the queue and returns its handle. The task does not
// run until an admission check drains it.
func (q *Queue) Enqueue(run func(ctx context.Context) (map[string]interface{}, error), highPriority bool) Handle {
	t := &task{
		id:   uuid.NewString(),
		high: highPriority,
		run:  run,
		done: make(chan Result, 1),
	}

	if highPriority {
		q.high <- t
	} else {
		q.tasks <- t
	}

	return Handle{ID: t.id, Done: t.done}
}

// Len returns the number of tasks waiting in both tiers.
func (q *Queue) Len() int {
	return len(q.high) + len(q.tasks)
}

// ProcessNext runs the next waiting task if the admission window allows it,
// draining the high-priority tier first. It reports whether a task ran.
func (q *Queue) ProcessNext(ctx context.Context) bool {
	var t *task
	select {
	case t = <-q.high:
	default:
		select {
		case t = <-q.tasks:
		default:
			return false
		}
	}

	admitted, err := q.counter.CheckAndIncrement(admissionKey, q.window, q.rateLimit)
	if err != nil || !admitted {
		// Rate limit exceeded (or the counter is unreachable): the task goes
		// back to its tier and waits for a later admission check.
		if t.high {
			q.high <- t
		} else {
			q.tasks <- t
		}
		return false
	}

	value, runErr := t.run(ctx)
	t.done <- Result{Value: value, Err: runErr}
	return true
}
