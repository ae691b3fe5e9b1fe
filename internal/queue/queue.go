package queue

import (
	"context"
	"errors"
	"sync"

	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// HistoryQueue is an in-memory queue of valuation history batches. It lets
// valuations return before their audit rows are written.
type HistoryQueue struct {
	items    chan []*models.ValuationHistory
	stopped  chan struct{}
	maxSize  int
	closed   bool
	started  bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func([]*models.ValuationHistory) error
}

// NewHistoryQueue creates a queue holding at most bufferSize pending batches
func NewHistoryQueue(bufferSize int, logger *logrus.Logger) *HistoryQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &HistoryQueue{
		items:    make(chan []*models.ValuationHistory, bufferSize),
		stopped:  make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func([]*models.ValuationHistory) error, 0),
	}
}

// Push adds a batch of entries to the queue
func (q *HistoryQueue) Push(entries []*models.ValuationHistory) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	// Non-blocking send so a stalled writer never blocks valuations
	select {
	case q.items <- entries:
		q.logger.WithField("batch_size", len(entries)).Debug("Pushed history batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Record enqueues a copy of entry. The caller's entry keeps a zero ID, which
// marks it as accepted but not yet written.
func (q *HistoryQueue) Record(ctx context.Context, entry *models.ValuationHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clone := *entry
	return q.Push([]*models.ValuationHistory{&clone})
}

// Subscribe adds a handler function that will be called for each batch
func (q *HistoryQueue) Subscribe(handler func([]*models.ValuationHistory) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing items in the queue
func (q *HistoryQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.process()
}

// process drains the channel until Close closes it
func (q *HistoryQueue) process() {
	defer close(q.stopped)
	for batch := range q.items {
		q.processBatch(batch)
	}
}

func (q *HistoryQueue) processBatch(batch []*models.ValuationHistory) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("batch_size", len(batch)).Error("Handler failed to process history batch")
		}
	}
}

// Close rejects new items and, when the queue was started, waits until the
// pending batches have been handed to the subscribers or ctx expires.
func (q *HistoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	started := q.started
	q.mu.Unlock()

	if !started {
		if n := len(q.items); n > 0 {
			q.logger.WithField("pending", n).Warn("History queue closed before it was started")
		}
		return nil
	}

	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		q.logger.WithField("pending", len(q.items)).Warn("History queue drain interrupted")
		return ctx.Err()
	}
}

// Len returns the current number of batches in the queue
func (q *HistoryQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *HistoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
