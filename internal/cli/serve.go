package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"appraisal/server/internal/analytics"
	"appraisal/server/internal/api"
	"appraisal/server/internal/auth"
	"appraisal/server/internal/cache"
	"appraisal/server/internal/coefficients"
	"appraisal/server/internal/database"
	"appraisal/server/internal/geocoding"
	"appraisal/server/internal/metrics"
	"appraisal/server/internal/processor"
	"appraisal/server/internal/queue"
	"appraisal/server/internal/scheduler"
	"appraisal/server/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the HTTP API together with the history writer and, when enabled, the backup scheduler. Stops on SIGINT or SIGTERM after draining queued history.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger := a.cfg, a.logger
	m := metrics.New()

	var coefCache coefficients.Cache
	if cfg.Redis.Addr != "" {
		c, err := cache.NewCoefficientCache(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, coefficient cache disabled")
		} else {
			defer c.Close()
			coefCache = c
		}
	}

	var (
		recorder     valuation.HistoryRecorder = database.NewHistoryStore(a.db)
		historyQueue *queue.HistoryQueue
		historyProc  *processor.HistoryProcessor
	)
	if cfg.History.Async {
		historyQueue = queue.NewHistoryQueue(cfg.History.QueueSize, logger)
		historyProc = processor.NewHistoryProcessor(a.db.Gorm(), historyQueue, cfg, logger)
		historyProc.SetFaultCounter(m)
		historyProc.Start()
		recorder = historyQueue
	}

	engine := valuation.NewEngine(valuation.NewCalculator(rates(cfg)), recorder, logger)
	engine.SetObserver(m)

	tokens := auth.NewTokenService(cfg.Auth.SecretKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	deps := api.Deps{
		DB:           a.db,
		Engine:       engine,
		Coefficients: coefficients.NewService(database.NewCoefficientStore(a.db), coefCache, logger),
		Auth:         auth.NewService(database.NewUserStore(a.db), tokens, logger),
		Analytics:    analytics.NewService(database.NewPropertyStore(a.db), database.NewHistoryStore(a.db), logger),
		Metrics:      m,
		Logger:       logger,
	}
	var geocoder *geocoding.Geocoder
	if cfg.Geocoding.Enabled {
		geocoder = geocoding.NewGeocoder(logger, geocoding.Options{
			BaseURL:      cfg.Geocoding.BaseURL,
			UserAgent:    cfg.Geocoding.UserAgent,
			CountryCodes: cfg.Geocoding.CountryCodes,
			CacheDir:     cfg.Geocoding.CacheDir,
			MinInterval:  cfg.Geocoding.MinInterval,
		})
		deps.Geocoder = geocoder
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(api.NewHandler(deps), cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if historyQueue != nil {
			if qerr := historyQueue.Close(shutdownCtx); qerr != nil {
				logger.WithError(qerr).WithField("pending", historyQueue.Len()).Warn("History queue did not drain")
			}
			historyProc.Stop()
		}
		return err
	})

	if cfg.Backup.Enabled {
		if a.db.Driver() != database.DriverSQLite {
			logger.WithField("driver", a.db.Driver()).Warn("Backups are only supported for sqlite, scheduler disabled")
		} else {
			sched := scheduler.NewScheduler(a.db, scheduler.Options{
				Dir:           cfg.Backup.Dir,
				RetentionDays: cfg.Backup.RetentionDays,
				Interval:      cfg.Backup.Interval,
				OnFinish:      m.BackupFinished,
			}, logger)
			g.Go(func() error {
				return sched.Run(gctx)
			})
		}
	}

	if geocoder != nil {
		g.Go(func() error {
			logger.Info("Starting initial geocoding of properties without coordinates...")
			if _, _, err := a.db.UpdateMissingCoordinates(gctx, geocoder); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Failed to update coordinates")
			}
			return nil
		})
	}

	return g.Wait()
}
