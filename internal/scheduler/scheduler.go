package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	backupPrefix = "valuation_"
	backupSuffix = ".db"
)

// Backuper writes a consistent copy of the database to dest.
type Backuper interface {
	Backup(ctx context.Context, dest string) error
}

type Options struct {
	Dir           string
	RetentionDays int
	Interval      time.Duration
	// OnFinish, when set, is called after every backup attempt
	OnFinish func(error)
}

// Scheduler runs periodic database backups and prunes old copies
type Scheduler struct {
	db       Backuper
	opts     Options
	logger   *logrus.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex // Ensures sequential job execution
	now      func() time.Time
	stopOnce sync.Once
}

func NewScheduler(db Backuper, opts Options, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}

	return &Scheduler{
		db:       db,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start takes a startup backup and then one per interval
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

// Run starts the scheduler and blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.runJob(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runJob(ctx)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	if _, err := s.RunBackup(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled backup failed")
	}
	if _, err := s.Cleanup(); err != nil {
		s.logger.WithError(err).Error("Backup cleanup failed")
	}
}

// RunBackup writes a new timestamped backup and returns its path
func (s *Scheduler) RunBackup(ctx context.Context) (string, error) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	if err := os.MkdirAll(s.opts.Dir, 0755); err != nil {
		return "", s.finish(fmt.Errorf("failed to create backup directory: %w", err))
	}

	name := backupPrefix + s.now().Format("20060102_150405") + backupSuffix
	dest := filepath.Join(s.opts.Dir, name)

	start := time.Now()
	if err := s.db.Backup(ctx, dest); err != nil {
		return "", s.finish(err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":     dest,
		"duration": time.Since(start).String(),
	}).Info("Database backup completed")
	return dest, s.finish(nil)
}

// Cleanup removes backups older than the retention period. A retention of
// zero or less keeps everything.
func (s *Scheduler) Cleanup() (int, error) {
	if s.opts.RetentionDays <= 0 {
		return 0, nil
	}

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.opts.Dir, name)); err != nil {
				s.logger.WithError(err).WithField("file", name).Warn("Failed to remove old backup")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Removed old backups")
	}
	return removed, nil
}

func (s *Scheduler) finish(err error) error {
	if s.opts.OnFinish != nil {
		s.opts.OnFinish(err)
	}
	return err
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
