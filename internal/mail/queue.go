package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("mail: queue closed")

// AsyncQueue delivers messages on a fixed pool of workers. Enqueue never
// waits on SMTP.
type AsyncQueue struct {
	sender  Sender
	logger  *zap.SugaredLogger
	timeout time.Duration
	jobs    chan Message
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsyncQueue(sender Sender, workers, buffer int, logger *zap.SugaredLogger) *AsyncQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	q := &AsyncQueue{
		sender:  sender,
		logger:  logger,
		timeout: 2 * time.Minute,
		jobs:    make(chan Message, buffer),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

func (q *AsyncQueue) work() {
	defer q.wg.Done()
	for m := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.sender.Send(ctx, m); err != nil {
			q.logger.Errorw("queued email dropped", "tag", m.Tag, "error", err)
		}
		cancel()
	}
}

// Enqueue blocks only while the buffer is full.
func (q *AsyncQueue) Enqueue(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and waits for queued ones to drain.
func (q *AsyncQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
