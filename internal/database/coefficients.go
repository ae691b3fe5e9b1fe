package database

import (
	"context"
	"errors"
	"fmt"

	"appraisal/server/internal/models"

	"gorm.io/gorm"
)

// ErrActiveCoefficientExists is returned when a write would leave two active
// coefficients for the same feature.
var ErrActiveCoefficientExists = errors.New("an active coefficient already exists for this feature")

type CoefficientStore struct {
	db *gorm.DB
}

func NewCoefficientStore(d *Database) *CoefficientStore {
	return &CoefficientStore{db: d.gorm}
}

// Create inserts c. The active-duplicate check and the insert share one
// transaction.
func (s *CoefficientStore) Create(ctx context.Context, c *models.AdjustmentCoefficient) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.IsActive {
			if err := ensureNoOtherActive(tx, c.FeatureName, 0); err != nil {
				return err
			}
		}
		if err := tx.Create(c).Error; err != nil {
			return activeConflict(err, c.FeatureName, "failed to insert coefficient")
		}
		return nil
	})
}

func (s *CoefficientStore) Get(ctx context.Context, id uint) (*models.AdjustmentCoefficient, error) {
	var c models.AdjustmentCoefficient
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "coefficient", id)
	}
	return &c, nil
}

// GetActiveByFeature returns the active coefficient for name.
func (s *CoefficientStore) GetActiveByFeature(ctx context.Context, name string) (*models.AdjustmentCoefficient, error) {
	var c models.AdjustmentCoefficient
	err := s.db.WithContext(ctx).
		Where("feature_name = ? AND is_active = ?", name, true).
		Order("updated_at DESC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "active coefficient for feature", name)
	}
	return &c, nil
}

func (s *CoefficientStore) List(ctx context.Context, filter models.CoefficientFilter) ([]models.AdjustmentCoefficient, error) {
	q := s.db.WithContext(ctx).Model(&models.AdjustmentCoefficient{})
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var coefficients []models.AdjustmentCoefficient
	err := q.Order("feature_name").Order("id").
		Offset(filter.Skip).
		Limit(clampLimit(filter.Limit)).
		Find(&coefficients).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list coefficients: %w", err)
	}
	return coefficients, nil
}

// Update loads the coefficient, applies mutate and saves it, all inside one
// transaction. The active-duplicate check runs against the mutated row.
func (s *CoefficientStore) Update(ctx context.Context, id uint, mutate func(*models.AdjustmentCoefficient) error) (*models.AdjustmentCoefficient, error) {
	var c models.AdjustmentCoefficient
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return notFound(err, "coefficient", id)
		}
		if err := mutate(&c); err != nil {
			return err
		}
		if c.IsActive {
			if err := ensureNoOtherActive(tx, c.FeatureName, c.ID); err != nil {
				return err
			}
		}
		if err := tx.Save(&c).Error; err != nil {
			return activeConflict(err, c.FeatureName, fmt.Sprintf("failed to update coefficient %d", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CoefficientStore) Delete(ctx context.Context, id uint) (*models.AdjustmentCoefficient, error) {
	var c models.AdjustmentCoefficient
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return notFound(err, "coefficient", id)
		}
		if err := tx.Delete(&c).Error; err != nil {
			return fmt.Errorf("failed to delete coefficient %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveFeatureNames returns the set of feature names with an active
// coefficient.
func (s *CoefficientStore) ActiveFeatureNames(ctx context.Context) (map[string]bool, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.AdjustmentCoefficient{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("feature_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active feature names: %w", err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// ensureNoOtherActive must run inside the writing transaction. On postgres it
// first takes a transaction-scoped advisory lock on the feature name so
// concurrent writers for the same feature queue up behind each other.
func ensureNoOtherActive(tx *gorm.DB, featureName string, excludeID uint) error {
	if tx.Dialector.Name() == DriverPostgres {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", featureName).Error; err != nil {
			return fmt.Errorf("failed to lock feature %q: %w", featureName, err)
		}
	}

	var count int64
	q := tx.Model(&models.AdjustmentCoefficient{}).
		Where("feature_name = ? AND is_active = ?", featureName, true)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check active coefficients: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("feature %q: %w", featureName, ErrActiveCoefficientExists)
	}
	return nil
}

// activeConflict maps a violation of the one-active-per-feature index onto
// ErrActiveCoefficientExists.
func activeConflict(err error, featureName, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("feature %q: %w", featureName, ErrActiveCoefficientExists)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
