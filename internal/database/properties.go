package database

import (
	"context"
	"fmt"
	"strings"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/models"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PropertyStore struct {
	db *gorm.DB
}

func NewPropertyStore(d *Database) *PropertyStore {
	return &PropertyStore{db: d.gorm}
}

func (s *PropertyStore) Create(ctx context.Context, p *models.Property) error {
	if p.Features == nil {
		p.Features = []models.Feature{}
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to insert property: %w", err)
	}
	return nil
}

// GetProperty returns the property with the given id or an error wrapping
// apperr.ErrNotFound.
func (s *PropertyStore) GetProperty(ctx context.Context, id uint) (*models.Property, error) {
	var p models.Property
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "property", id)
	}
	return &p, nil
}

func (s *PropertyStore) List(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error) {
	q := s.db.WithContext(ctx).Model(&models.Property{})
	if filter.PropertyType != "" {
		q = q.Where("property_type = ?", strings.ToLower(filter.PropertyType))
	}
	if filter.MinPrice > 0 {
		q = q.Where("price >= ?", filter.MinPrice)
	}
	if filter.MaxPrice > 0 {
		q = q.Where("price <= ?", filter.MaxPrice)
	}
	if filter.Query != "" {
		q = q.Where("LOWER(address) LIKE ?", "%"+strings.ToLower(filter.Query)+"%")
	}

	var props []models.Property
	err := q.Order("id").
		Offset(filter.Skip).
		Limit(clampLimit(filter.Limit)).
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	return props, nil
}

// Located returns every property with coordinates, optionally restricted to a
// property type.
func (s *PropertyStore) Located(ctx context.Context, propertyType string) ([]models.Property, error) {
	q := s.db.WithContext(ctx).Where("NOT (location_lat = 0 AND location_lng = 0)")
	if propertyType != "" {
		q = q.Where("property_type = ?", strings.ToLower(propertyType))
	}
	var props []models.Property
	if err := q.Order("id").Find(&props).Error; err != nil {
		return nil, fmt.Errorf("failed to load located properties: %w", err)
	}
	return props, nil
}

// MissingLocation returns up to limit properties with an address but no
// coordinates.
func (s *PropertyStore) MissingLocation(ctx context.Context, limit int) ([]models.Property, error) {
	var props []models.Property
	err := s.db.WithContext(ctx).
		Where("location_lat = 0 AND location_lng = 0 AND address <> ''").
		Order("id").
		Limit(limit).
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query properties without location: %w", err)
	}
	return props, nil
}

func (s *PropertyStore) Save(ctx context.Context, p *models.Property) error {
	if p.ID == 0 {
		return fmt.Errorf("failed to update property: missing id")
	}
	if p.Features == nil {
		p.Features = []models.Feature{}
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to update property %d: %w", p.ID, err)
	}
	return nil
}

func (s *PropertyStore) SetLocation(ctx context.Context, id uint, loc models.Location) error {
	res := s.db.WithContext(ctx).Model(&models.Property{}).Where("id = ?", id).
		Updates(map[string]interface{}{"location_lat": loc.Lat, "location_lng": loc.Lng})
	if res.Error != nil {
		return fmt.Errorf("failed to update location of property %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("property %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *PropertyStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Property{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete property %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("property %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// SameType returns the priced properties of propertyType other than excludeID.
func (s *PropertyStore) SameType(ctx context.Context, propertyType string, excludeID uint) ([]models.Property, error) {
	var props []models.Property
	err := s.db.WithContext(ctx).
		Where("property_type = ? AND id <> ? AND price > 0", strings.ToLower(propertyType), excludeID).
		Order("id").
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load %s comparables: %w", propertyType, err)
	}
	return props, nil
}
