package worker

import (
	"context"
	"sync"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/mq/queue"
)

type dispatchQueue interface {
	Consume(ctx context.Context, out chan<- queue.Envelope, strategy retry.Strategy) error
}

type envelopeHandler interface {
	HandleMessage(ctx context.Context, env queue.Envelope, strategy retry.Strategy)
}

// Dispatcher consumes dispatch envelopes and fans them out to a worker pool.
type Dispatcher struct {
	queue   dispatchQueue
	handler envelopeHandler
}

func NewDispatcher(q dispatchQueue, h envelopeHandler) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		handler: h,
	}
}

// Run consumes envelopes until ctx is cancelled, handling them on workerCount
// goroutines.
func (d *Dispatcher) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	envChan := make(chan queue.Envelope, workerCount*10)

	go func() {
		if err := d.queue.Consume(ctx, envChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume dispatch envelopes")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case env, ok := <-envChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					d.handler.HandleMessage(ctx, env, strategy)
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("dispatcher stopped")
}
