package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"appraisal/server/internal/apperr"

	"github.com/sirupsen/logrus"
)

const cacheFileName = "geocode_cache.json"

type Options struct {
	BaseURL      string
	UserAgent    string
	CountryCodes string
	// Empty disables the disk cache
	CacheDir    string
	MinInterval time.Duration
	Timeout     time.Duration
}

// Geocoder resolves addresses through a Nominatim compatible service. Results
// of forward lookups are cached in memory and on disk.
type Geocoder struct {
	logger    *logrus.Logger
	opts      Options
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client

	rateLock    sync.Mutex
	lastRequest time.Time
}

func NewGeocoder(logger *logrus.Logger, opts Options) *Geocoder {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	g := &Geocoder{
		logger: logger,
		opts:   opts,
		cache:  make(map[string][]float64),
		client: &http.Client{Timeout: opts.Timeout},
	}

	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(filepath.Join(g.opts.CacheDir, cacheFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}
	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

func (g *Geocoder) saveCache() {
	if g.opts.CacheDir == "" {
		return
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		g.logger.WithError(err).Error("Failed to marshal geocode cache")
		return
	}

	if err := os.WriteFile(filepath.Join(g.opts.CacheDir, cacheFileName), data, 0644); err != nil {
		g.logger.WithError(err).Error("Failed to save geocode cache")
	}
}

type searchResponse []struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type ReverseResult struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// GeocodeAddress returns the latitude and longitude of address. An address
// without results yields an error wrapping apperr.ErrNotFound.
func (g *Geocoder) GeocodeAddress(ctx context.Context, address string) (float64, float64, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, 0, apperr.NewValidation("", "address", "must not be blank")
	}
	cacheKey := strings.ToLower(address)

	g.cacheLock.RLock()
	coords, ok := g.cache[cacheKey]
	g.cacheLock.RUnlock()
	if ok && len(coords) == 2 {
		g.logger.WithFields(logrus.Fields{
			"address": address,
			"source":  "cache",
		}).Debug("Found coordinates in cache")
		return coords[0], coords[1], nil
	}

	params := url.Values{
		"q":      []string{address},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	if g.opts.CountryCodes != "" {
		params.Set("countrycodes", g.opts.CountryCodes)
	}

	var result searchResponse
	if err := g.get(ctx, "/search", params, &result); err != nil {
		g.logger.WithError(err).WithField("address", address).Error("Geocoding request failed")
		return 0, 0, err
	}
	if len(result) == 0 {
		return 0, 0, fmt.Errorf("no results for address %q: %w", address, apperr.ErrNotFound)
	}

	lat, errLat := strconv.ParseFloat(result[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(result[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return 0, 0, fmt.Errorf("invalid coordinates in geocoder response for %q", address)
	}

	g.logger.WithFields(logrus.Fields{
		"address":   address,
		"latitude":  lat,
		"longitude": lng,
		"source":    "nominatim",
	}).Info("Successfully geocoded address")

	g.cacheLock.Lock()
	g.cache[cacheKey] = []float64{lat, lng}
	g.cacheLock.Unlock()
	g.saveCache()

	return lat, lng, nil
}

// ReverseGeocode returns the address closest to the given point.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	params := url.Values{
		"lat":    []string{strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    []string{strconv.FormatFloat(lng, 'f', -1, 64)},
		"format": []string{"json"},
	}

	var result reverseResponse
	if err := g.get(ctx, "/reverse", params, &result); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{"lat": lat, "lng": lng}).Error("Reverse geocoding failed")
		return nil, err
	}
	if result.Error != "" || result.DisplayName == "" {
		return nil, fmt.Errorf("no address at %f,%f: %w", lat, lng, apperr.ErrNotFound)
	}

	return &ReverseResult{
		DisplayName: result.DisplayName,
		Address:     result.Address,
		Lat:         lat,
		Lng:         lng,
	}, nil
}

func (g *Geocoder) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// wait spaces requests at least MinInterval apart, as the public Nominatim
// usage policy requires.
func (g *Geocoder) wait(ctx context.Context) error {
	g.rateLock.Lock()
	defer g.rateLock.Unlock()

	if delay := g.opts.MinInterval - time.Since(g.lastRequest); delay > 0 && !g.lastRequest.IsZero() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.lastRequest = time.Now()
	return nil
}
