package processor

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"appraisal/server/config"
	"appraisal/server/internal/database"
	"appraisal/server/internal/models"
	"appraisal/server/internal/queue"
	"appraisal/server/internal/valuation"
)

// MockDB is a mock implementation of Transactor
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Transaction(fc func(*gorm.DB) error, opts ...*sql.TxOptions) error {
	args := m.Called(fc)
	return args.Error(0)
}

type faultCounter struct {
	n atomic.Int32
}

func (f *faultCounter) HistoryFault() { f.n.Add(1) }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.History.MaxRetries = 3
	cfg.History.RetryDelay = time.Millisecond
	return cfg
}

func TestNewHistoryProcessor(t *testing.T) {
	mockDB := &MockDB{}
	q := queue.NewHistoryQueue(10, logrus.New())
	cfg := testConfig()
	logger := logrus.New()

	p := NewHistoryProcessor(mockDB, q, cfg, logger)

	assert.NotNil(t, p)
	assert.Equal(t, mockDB, p.db)
	assert.Equal(t, q, p.queue)
	assert.Equal(t, cfg, p.config)
	assert.Equal(t, logger, p.logger)
}

func TestHistoryProcessor_ProcessBatch(t *testing.T) {
	mockDB := &MockDB{}
	logger, _ := test.NewNullLogger()
	faults := &faultCounter{}
	p := NewHistoryProcessor(mockDB, queue.NewHistoryQueue(10, logger), testConfig(), logger)
	p.SetFaultCounter(faults)

	batch := []*models.ValuationHistory{
		{ValuationType: models.ValuationTypeComparative, AdjustedPrice: 100},
		{ValuationType: models.ValuationTypeComparative, AdjustedPrice: 200},
	}

	mockDB.On("Transaction", mock.Anything).Return(nil).Once()
	err := p.processBatch(batch)
	assert.NoError(t, err)
	assert.Zero(t, faults.n.Load())

	// One initial attempt plus three retries
	mockDB.On("Transaction", mock.Anything).Return(errors.New("db error")).Times(4)
	err = p.processBatch(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process batch after 3 attempts")
	assert.EqualValues(t, 1, faults.n.Load())
	mockDB.AssertExpectations(t)
}

func TestHistoryProcessor_RecoversOnRetry(t *testing.T) {
	mockDB := &MockDB{}
	logger, hook := test.NewNullLogger()
	p := NewHistoryProcessor(mockDB, queue.NewHistoryQueue(10, logger), testConfig(), logger)

	mockDB.On("Transaction", mock.Anything).Return(errors.New("database is locked")).Once()
	mockDB.On("Transaction", mock.Anything).Return(nil).Once()

	err := p.processBatch([]*models.ValuationHistory{{AdjustedPrice: 1}})
	assert.NoError(t, err)
	mockDB.AssertNumberOfCalls(t, "Transaction", 2)

	var sawError bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestHistoryProcessor_StopAbortsRetries(t *testing.T) {
	mockDB := &MockDB{}
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.History.RetryDelay = time.Hour
	p := NewHistoryProcessor(mockDB, queue.NewHistoryQueue(10, logger), cfg, logger)

	mockDB.On("Transaction", mock.Anything).Return(errors.New("db error"))

	done := make(chan error, 1)
	go func() {
		done <- p.processBatch([]*models.ValuationHistory{{AdjustedPrice: 1}})
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "abandoned during shutdown")
	case <-time.After(time.Second):
		t.Fatal("processBatch did not return after Stop")
	}
}

func TestHistoryProcessor_Integration(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	defer db.Close()

	logger, _ := test.NewNullLogger()
	q := queue.NewHistoryQueue(16, logger)
	p := NewHistoryProcessor(db.Gorm(), q, testConfig(), logger)
	p.Start()

	engine := valuation.NewEngine(valuation.NewCalculator(valuation.DefaultRates()), q, logger)

	subject := models.Property{
		Address: "1 Subject Street", PropertyType: "apartment", Area: 100,
		FloorLevel: 5, TotalFloors: 10, Condition: models.ConditionGood,
		RenovationStatus: models.RenovationRecent, Price: 0,
	}
	comparables := []models.Property{
		{ID: 7, Address: "7 Comparable Road", PropertyType: "apartment", Area: 100,
			FloorLevel: 5, TotalFloors: 10, Condition: models.ConditionGood,
			RenovationStatus: models.RenovationRecent, Price: 44000000},
		{ID: 8, Address: "8 Comparable Road", PropertyType: "apartment", Area: 100,
			FloorLevel: 5, TotalFloors: 10, Condition: models.ConditionGood,
			RenovationStatus: models.RenovationRecent, Price: 46000000},
	}

	for i := 0; i < 3; i++ {
		result, err := engine.Valuate(context.Background(), valuation.Request{
			Subject:     subject,
			Comparables: comparables,
			CreatedBy:   "appraiser",
		})
		require.NoError(t, err)
		assert.Equal(t, models.HistoryQueued, result.History.Status)
	}

	require.NoError(t, q.Close(context.Background()))
	p.Stop()

	entries, err := database.NewHistoryStore(db).List(context.Background(), 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, 45000000.0, e.AdjustedPrice)
		assert.Equal(t, []uint{7, 8}, []uint(e.ComparableProperties))
		assert.Equal(t, "appraiser", e.CreatedBy)
	}
}
