package database

import (
	"context"
	"fmt"

	"appraisal/server/internal/models"

	"gorm.io/gorm"
)

// HistoryStore persists valuation audit entries. Entries are append-only.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(d *Database) *HistoryStore {
	return &HistoryStore{db: d.gorm}
}

// Record writes entry synchronously and sets its ID.
func (s *HistoryStore) Record(ctx context.Context, entry *models.ValuationHistory) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert valuation history: %w", err)
	}
	return nil
}

// InsertHistoryEntries writes a batch inside the caller's transaction.
func InsertHistoryEntries(tx *gorm.DB, entries []*models.ValuationHistory) error {
	if len(entries) == 0 {
		return nil
	}
	if err := tx.Create(entries).Error; err != nil {
		return fmt.Errorf("failed to insert %d valuation history entries: %w", len(entries), err)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, id uint) (*models.ValuationHistory, error) {
	var entry models.ValuationHistory
	if err := s.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, notFound(err, "valuation history entry", id)
	}
	return &entry, nil
}

// List returns entries newest first. A non-nil propertyID restricts the page
// to one subject property.
func (s *HistoryStore) List(ctx context.Context, skip, limit int, propertyID *uint) ([]models.ValuationHistory, error) {
	q := s.db.WithContext(ctx).Model(&models.ValuationHistory{})
	if propertyID != nil {
		q = q.Where("property_id = ?", *propertyID)
	}

	var entries []models.ValuationHistory
	err := q.Order("valuation_date DESC").Order("id DESC").
		Offset(skip).
		Limit(clampLimit(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list valuation history: %w", err)
	}
	return entries, nil
}

// ForProperty returns every entry of one subject property, newest first.
func (s *HistoryStore) ForProperty(ctx context.Context, propertyID uint) ([]models.ValuationHistory, error) {
	var entries []models.ValuationHistory
	err := s.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("valuation_date DESC").Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load valuation history of property %d: %w", propertyID, err)
	}
	return entries, nil
}
