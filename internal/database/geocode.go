package database

import (
	"context"
	"fmt"

	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
)

// AddressGeocoder resolves a free-form address to coordinates.
type AddressGeocoder interface {
	GeocodeAddress(ctx context.Context, address string) (float64, float64, error)
}

// UpdateMissingCoordinates geocodes stored properties that have an address but
// no location, in batches of ten. Failures are logged and skipped; the number
// of updated and failed properties is returned.
func (d *Database) UpdateMissingCoordinates(ctx context.Context, geocoder AddressGeocoder) (int, int, error) {
	store := NewPropertyStore(d)
	var updated, failed int
	skip := make(map[uint]bool)

	for {
		batch, err := store.MissingLocation(ctx, 10+len(skip))
		if err != nil {
			return updated, failed, err
		}

		pending := make([]models.Property, 0, len(batch))
		for _, p := range batch {
			if !skip[p.ID] {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			break
		}

		for _, p := range pending {
			if err := ctx.Err(); err != nil {
				return updated, failed, err
			}

			lat, lng, err := geocoder.GeocodeAddress(ctx, p.Address)
			if err != nil {
				d.logger.WithError(err).WithFields(logrus.Fields{
					"property_id": p.ID,
					"address":     p.Address,
				}).Warn("Failed to geocode property")
				skip[p.ID] = true
				failed++
				continue
			}

			if err := store.SetLocation(ctx, p.ID, models.Location{Lat: lat, Lng: lng}); err != nil {
				return updated, failed, fmt.Errorf("failed to store coordinates: %w", err)
			}
			updated++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"updated": updated,
		"failed":  failed,
	}).Info("Geocoding of stored properties completed")
	return updated, failed, nil
}
