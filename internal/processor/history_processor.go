package processor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"appraisal/server/config"
	"appraisal/server/internal/database"
	"appraisal/server/internal/models"
	"appraisal/server/internal/queue"
)

// Transactor is the part of *gorm.DB the processor needs.
type Transactor interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// FaultCounter is notified when a batch is dropped after all retries.
type FaultCounter interface {
	HistoryFault()
}

// HistoryProcessor writes queued valuation history batches to the database
type HistoryProcessor struct {
	db        Transactor
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.HistoryQueue
	faults    FaultCounter
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
}

// NewHistoryProcessor creates a new processor instance
func NewHistoryProcessor(db Transactor, queue *queue.HistoryQueue, config *config.Config, logger *logrus.Logger) *HistoryProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HistoryProcessor{
		db:     db,
		queue:  queue,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *HistoryProcessor) SetFaultCounter(f FaultCounter) {
	p.faults = f
}

// Start subscribes the processor to the queue and starts the queue loop
func (p *HistoryProcessor) Start() {
	p.once.Do(func() {
		p.queue.Subscribe(func(batch []*models.ValuationHistory) error {
			p.waitGroup.Add(1)
			defer p.waitGroup.Done()
			return p.processBatch(batch)
		})
		p.queue.Start()
	})
}

// Stop aborts pending retries and waits for the batch in flight
func (p *HistoryProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

// processBatch writes a single batch inside a transaction, retrying on failure
func (p *HistoryProcessor) processBatch(batch []*models.ValuationHistory) error {
	maxRetries := p.config.History.MaxRetries
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying history batch, attempt %d of %d", attempt, maxRetries)
			select {
			case <-time.After(p.config.History.RetryDelay):
			case <-p.ctx.Done():
				return p.drop(batch, fmt.Errorf("history batch abandoned during shutdown: %w", err))
			}
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.InsertHistoryEntries(tx, batch); err != nil {
				return fmt.Errorf("failed to insert history batch: %w", err)
			}
			return nil
		})

		if err == nil {
			p.logger.WithField("batch_size", len(batch)).Debug("Stored valuation history batch")
			return nil
		}

		p.logger.WithError(err).Error("History batch processing failed")
	}

	return p.drop(batch, fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries, err))
}

func (p *HistoryProcessor) drop(batch []*models.ValuationHistory, err error) error {
	if p.faults != nil {
		p.faults.HistoryFault()
	}
	p.logger.WithError(err).WithField("batch_size", len(batch)).Error("Dropped valuation history batch")
	return err
}
