package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"appraisal/server/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nullseed/logruseq"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

// NewLogger builds the service logger from the logging config. Unknown levels
// fall back to info.
func NewLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)

	if strings.EqualFold(cfg.Logging.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.SeqURL != "" {
		logger.AddHook(logruseq.NewSeqHook(cfg.Logging.SeqURL, logruseq.OptionAPIKey(cfg.Logging.SeqAPIKey)))
	}
	if err != nil && cfg.Logging.Level != "" {
		logger.WithField("level", cfg.Logging.Level).Warn("Unknown log level, using info")
	}
	return logger
}

// RequestLogger writes one entry per request and propagates a request id.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}
