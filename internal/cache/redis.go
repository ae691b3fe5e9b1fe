package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appraisal/server/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "coefficient:active:"

// CoefficientCache keeps the active coefficient of each feature in Redis so
// that the apply endpoint does not hit the database for every feature.
type CoefficientCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewCoefficientCache connects to Redis and verifies the connection.
func NewCoefficientCache(ctx context.Context, opts Options, logger *logrus.Logger) (*CoefficientCache, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", opts.Addr).Info("Redis coefficient cache initialized")
	return &CoefficientCache{client: client, ttl: opts.TTL, logger: logger}, nil
}

func (c *CoefficientCache) Close() error {
	return c.client.Close()
}

func (c *CoefficientCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetActive returns the cached coefficient for feature. The boolean is false
// on a miss.
func (c *CoefficientCache) GetActive(ctx context.Context, feature string) (*models.AdjustmentCoefficient, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+feature).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached coefficient: %w", err)
	}

	var coef models.AdjustmentCoefficient
	if err := json.Unmarshal(data, &coef); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached coefficient: %w", err)
	}

	c.logger.WithField("feature_name", feature).Debug("Coefficient cache hit")
	return &coef, true, nil
}

func (c *CoefficientCache) SetActive(ctx context.Context, coef *models.AdjustmentCoefficient) error {
	data, err := json.Marshal(coef)
	if err != nil {
		return fmt.Errorf("failed to marshal coefficient: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+coef.FeatureName, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache coefficient: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry of each named feature.
func (c *CoefficientCache) Invalidate(ctx context.Context, features ...string) error {
	if len(features) == 0 {
		return nil
	}
	keys := make([]string, len(features))
	for i, f := range features {
		keys[i] = keyPrefix + f
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached coefficients: %w", err)
	}
	return nil
}
