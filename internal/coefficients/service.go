// Package coefficients administers per-feature adjustment coefficients and
// applies them to arbitrary feature lists. It is a separate strategy from the
// comparative engine, which uses fixed per-dimension rates.
package coefficients

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/database"
	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
)

// Lookup resolves the active coefficient of a feature. A feature without one
// yields an error wrapping apperr.ErrNotFound.
type Lookup interface {
	GetActiveByFeature(ctx context.Context, name string) (*models.AdjustmentCoefficient, error)
}

// Cache holds active coefficients by feature name.
type Cache interface {
	GetActive(ctx context.Context, feature string) (*models.AdjustmentCoefficient, bool, error)
	SetActive(ctx context.Context, coef *models.AdjustmentCoefficient) error
	Invalidate(ctx context.Context, features ...string) error
}

type Service struct {
	store  *database.CoefficientStore
	cache  Cache
	logger *logrus.Logger

	// writes counts invalidations so a read-through fill that raced a
	// write can drop what it cached.
	writes atomic.Uint64
}

// NewService builds the service. cache may be nil.
func NewService(store *database.CoefficientStore, cache Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

func (s *Service) Create(ctx context.Context, in models.CoefficientInput, createdBy string) (*models.AdjustmentCoefficient, error) {
	name := strings.TrimSpace(in.FeatureName)
	if err := validateFields(name, in.CoefficientValue); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	coef := &models.AdjustmentCoefficient{
		FeatureName:      name,
		CoefficientValue: in.CoefficientValue,
		Description:      in.Description,
		IsActive:         active,
		CreatedBy:        createdBy,
	}
	if err := s.store.Create(ctx, coef); err != nil {
		return nil, translate(err, name)
	}

	s.invalidate(ctx, name)
	s.logger.WithFields(logrus.Fields{
		"coefficient_id": coef.ID,
		"feature_name":   name,
		"created_by":     createdBy,
	}).Info("Adjustment coefficient created")
	return coef, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.AdjustmentCoefficient, error) {
	return s.store.Get(ctx, id)
}

// GetActiveByFeature reads through the cache. Cache failures are logged and
// the store answers instead.
func (s *Service) GetActiveByFeature(ctx context.Context, name string) (*models.AdjustmentCoefficient, error) {
	if s.cache != nil {
		coef, ok, err := s.cache.GetActive(ctx, name)
		if err != nil {
			s.logger.WithError(err).WithField("feature_name", name).Warn("Coefficient cache read failed")
		} else if ok {
			return coef, nil
		}
	}

	seen := s.writes.Load()
	coef, err := s.store.GetActiveByFeature(ctx, name)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetActive(ctx, coef); err != nil {
			s.logger.WithError(err).WithField("feature_name", name).Warn("Coefficient cache write failed")
		} else if s.writes.Load() != seen {
			s.invalidate(ctx, name)
		}
	}
	return coef, nil
}

func (s *Service) List(ctx context.Context, filter models.CoefficientFilter) ([]models.AdjustmentCoefficient, error) {
	return s.store.List(ctx, filter)
}

// Update applies the non-nil fields of upd.
func (s *Service) Update(ctx context.Context, id uint, upd models.CoefficientUpdate) (*models.AdjustmentCoefficient, error) {
	var previous string
	coef, err := s.store.Update(ctx, id, func(c *models.AdjustmentCoefficient) error {
		previous = c.FeatureName
		if upd.FeatureName != nil {
			c.FeatureName = strings.TrimSpace(*upd.FeatureName)
		}
		if upd.CoefficientValue != nil {
			c.CoefficientValue = *upd.CoefficientValue
		}
		if upd.Description != nil {
			c.Description = *upd.Description
		}
		if upd.IsActive != nil {
			c.IsActive = *upd.IsActive
		}
		return validateFields(c.FeatureName, c.CoefficientValue)
	})
	if err != nil {
		name := previous
		if upd.FeatureName != nil {
			name = strings.TrimSpace(*upd.FeatureName)
		}
		return nil, translate(err, name)
	}

	s.invalidate(ctx, previous, coef.FeatureName)
	return coef, nil
}

// Deactivate soft-deletes a coefficient.
func (s *Service) Deactivate(ctx context.Context, id uint) (*models.AdjustmentCoefficient, error) {
	inactive := false
	return s.Update(ctx, id, models.CoefficientUpdate{IsActive: &inactive})
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	coef, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.invalidate(ctx, coef.FeatureName)
	s.logger.WithFields(logrus.Fields{
		"coefficient_id": id,
		"feature_name":   coef.FeatureName,
	}).Info("Adjustment coefficient deleted")
	return nil
}

// Apply multiplies each feature value by the active coefficient of that
// feature. Features without an active coefficient are skipped; input order is
// kept.
func (s *Service) Apply(ctx context.Context, features []models.Feature) ([]models.Adjustment, error) {
	return Apply(ctx, s, features)
}

func Apply(ctx context.Context, lookup Lookup, features []models.Feature) ([]models.Adjustment, error) {
	adjustments := make([]models.Adjustment, 0, len(features))
	for _, f := range features {
		coef, err := lookup.GetActiveByFeature(ctx, f.Name)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up coefficient for %q: %w", f.Name, err)
		}
		adjustments = append(adjustments, models.Adjustment{
			Feature:     f.Name,
			Value:       coef.CoefficientValue * f.Value,
			Description: coef.Description,
		})
	}
	return adjustments, nil
}

// Validate checks a batch of candidate coefficients and returns one message
// per problem. An empty result means the batch can be created as is.
func (s *Service) Validate(ctx context.Context, batch []models.CoefficientInput) ([]string, error) {
	stored, err := s.store.ActiveFeatureNames(ctx)
	if err != nil {
		return nil, err
	}

	problems := make([]string, 0)
	seen := make(map[string]bool, len(batch))
	for _, in := range batch {
		name := strings.TrimSpace(in.FeatureName)
		active := in.IsActive == nil || *in.IsActive

		if name == "" {
			problems = append(problems, "Feature name cannot be empty")
		} else if active {
			if stored[name] {
				problems = append(problems, fmt.Sprintf("Coefficient for feature '%s' already exists", name))
			} else if seen[name] {
				problems = append(problems, fmt.Sprintf("Coefficient for feature '%s' is duplicated in the batch", name))
			}
			seen[name] = true
		}

		if !(in.CoefficientValue > 0) || math.IsInf(in.CoefficientValue, 0) {
			problems = append(problems, fmt.Sprintf("Coefficient value for '%s' must be positive", name))
		}
	}
	return problems, nil
}

func (s *Service) invalidate(ctx context.Context, features ...string) {
	if s.cache == nil {
		return
	}
	s.writes.Add(1)
	if err := s.cache.Invalidate(ctx, features...); err != nil {
		s.logger.WithError(err).WithField("features", features).Warn("Coefficient cache invalidation failed")
	}
}

func validateFields(name string, value float64) error {
	if name == "" {
		return apperr.NewValidation("coefficient", "feature_name", "must not be blank")
	}
	if !(value > 0) || math.IsInf(value, 0) {
		return apperr.NewValidation("coefficient", "coefficient_value", "must be a positive number")
	}
	return nil
}

func translate(err error, name string) error {
	if errors.Is(err, database.ErrActiveCoefficientExists) {
		return apperr.NewValidation("coefficient", "feature_name",
			fmt.Sprintf("an active coefficient for '%s' already exists", name))
	}
	return err
}
