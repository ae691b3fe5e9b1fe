package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"appraisal/server/internal/analytics"
	"appraisal/server/internal/apperr"
	"appraisal/server/internal/auth"
	"appraisal/server/internal/coefficients"
	"appraisal/server/internal/database"
	"appraisal/server/internal/geocoding"
	"appraisal/server/internal/metrics"
	"appraisal/server/internal/models"
	"appraisal/server/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGeocoder struct {
	locations map[string]models.Location
}

func (f fakeGeocoder) GeocodeAddress(ctx context.Context, address string) (float64, float64, error) {
	loc, ok := f.locations[address]
	if !ok {
		return 0, 0, fmt.Errorf("no results for %q: %w", address, apperr.ErrNotFound)
	}
	return loc.Lat, loc.Lng, nil
}

func (f fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*geocoding.ReverseResult, error) {
	return &geocoding.ReverseResult{DisplayName: "Dam Square, Amsterdam", Lat: lat, Lng: lng}, nil
}

type testServer struct {
	router     *gin.Engine
	db         *database.Database
	auth       *auth.Service
	metrics    *metrics.Metrics
	properties *database.PropertyStore
	admin      string
	appraiser  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	m := metrics.New()

	authSvc := auth.NewService(database.NewUserStore(db),
		auth.NewTokenService("test-secret", "appraisal-test", 30*time.Minute), logger)
	engine := valuation.NewEngine(valuation.NewCalculator(valuation.DefaultRates()), database.NewHistoryStore(db), logger)
	engine.SetObserver(m)

	h := NewHandler(Deps{
		DB:           db,
		Engine:       engine,
		Coefficients: coefficients.NewService(database.NewCoefficientStore(db), nil, logger),
		Auth:         authSvc,
		Analytics:    analytics.NewService(database.NewPropertyStore(db), database.NewHistoryStore(db), logger),
		Geocoder: fakeGeocoder{locations: map[string]models.Location{
			"Damrak 1": {Lat: 52.3745, Lng: 4.8979},
		}},
		Metrics: m,
		Logger:  logger,
	})

	ts := &testServer{
		router:     NewRouter(h, []string{"http://localhost:3000"}),
		db:         db,
		auth:       authSvc,
		metrics:    m,
		properties: database.NewPropertyStore(db),
	}
	ts.admin = ts.token(t, true, "root")
	ts.appraiser = ts.token(t, false, "val")
	return ts
}

func (ts *testServer) token(t *testing.T, admin bool, name string) string {
	t.Helper()
	in := auth.RegisterInput{Email: name + "@example.com", Username: name, Password: "password123"}
	var (
		u   *models.User
		err error
	)
	if admin {
		u, err = ts.auth.CreateAdmin(context.Background(), in)
	} else {
		u, err = ts.auth.Register(context.Background(), in)
	}
	require.NoError(t, err)
	tok, err := ts.auth.IssueToken(u)
	require.NoError(t, err)
	return tok.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func apartment(address string, area, price float64) models.Property {
	return models.Property{
		Address:          address,
		PropertyType:     "apartment",
		Area:             area,
		FloorLevel:       3,
		TotalFloors:      9,
		Condition:        models.ConditionGood,
		RenovationStatus: models.RenovationPartial,
		Location:         models.Location{Lat: 52.37, Lng: 4.89},
		Price:            price,
		Features:         []models.Feature{{Name: "balconies", Value: 1}},
	}
}

func (ts *testServer) store(t *testing.T, p models.Property) models.Property {
	t.Helper()
	require.NoError(t, ts.properties.Create(context.Background(), &p))
	return p
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Real Estate Valuation API")

	w = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/api/properties", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestPropertyCRUD(t *testing.T) {
	ts := newTestServer(t)

	in := apartment("Damrak 1", 75, 420000)
	in.Location = models.Location{}
	in.RenovationStatus = "recently-renovated"
	w := ts.do(t, http.MethodPost, "/api/properties", ts.appraiser, in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Property
	decode(t, w, &created)
	require.NotZero(t, created.ID)
	assert.Equal(t, models.RenovationRecent, created.RenovationStatus)
	assert.Equal(t, models.Location{Lat: 52.3745, Lng: 4.8979}, created.Location)

	path := fmt.Sprintf("/api/properties/%d", created.ID)
	w = ts.do(t, http.MethodGet, path, ts.appraiser, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, path, ts.appraiser, map[string]interface{}{"price": 430000, "condition": "Excellent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Property
	decode(t, w, &updated)
	assert.Equal(t, 430000.0, updated.Price)
	assert.Equal(t, models.ConditionExcellent, updated.Condition)
	assert.Equal(t, 75.0, updated.Area)

	ts.store(t, apartment("Kalverstraat 2", 60, 300000))
	w = ts.do(t, http.MethodGet, "/api/properties?min_price=400000", ts.appraiser, nil)
	var list []models.Property
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	w = ts.do(t, http.MethodDelete, path, ts.appraiser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, path, ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProperty_Rejected(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(p *models.Property)
	}{
		{"zero area", func(p *models.Property) { p.Area = 0 }},
		{"no price", func(p *models.Property) { p.Price = 0 }},
		{"unknown condition", func(p *models.Property) { p.Condition = "shiny" }},
		{"latitude out of range", func(p *models.Property) { p.Location.Lat = 91 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := apartment("Rokin 9", 50, 200000)
			tt.mutate(&p)
			w := ts.do(t, http.MethodPost, "/api/properties", ts.appraiser, p)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodGet, "/api/properties/abc", ts.appraiser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalculateValuation(t *testing.T) {
	ts := newTestServer(t)

	subject := ts.store(t, apartment("Subject", 80, 400000))
	c1 := ts.store(t, apartment("Comp A", 70, 380000))
	c2 := ts.store(t, apartment("Comp B", 90, 410000))

	w := ts.do(t, http.MethodPost, "/api/valuation/calculate", ts.appraiser, ValuationRequest{
		SubjectPropertyID: &subject.ID,
		ComparableIDs:     []uint{c1.ID, c2.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.ValuationResult
	decode(t, w, &result)
	assert.Len(t, result.ComparableProperties, 2)
	assert.InDelta(t, 395000, result.FinalValuation, 1e-6)
	require.NotNil(t, result.History)
	assert.Equal(t, models.HistoryRecorded, result.History.Status)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/valuation/history?property_id=%d", subject.ID), ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.ValuationHistory
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "val", entries[0].CreatedBy)
	assert.Equal(t, []uint{c1.ID, c2.ID}, []uint(entries[0].ComparableProperties))

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/valuation/history/%d", entries[0].ID), ts.appraiser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/valuation/history/999", ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, w.Body.String(), "appraisal_valuation_confidence_count 1")
}

func TestCalculateValuation_Errors(t *testing.T) {
	ts := newTestServer(t)
	subject := apartment("Subject", 80, 0)
	missing := uint(4242)

	tests := []struct {
		name string
		req  ValuationRequest
		code int
	}{
		{"no subject", ValuationRequest{ComparableProperties: []models.Property{apartment("A", 70, 1)}}, http.StatusBadRequest},
		{"no comparables", ValuationRequest{SubjectProperty: &subject}, http.StatusBadRequest},
		{"unknown subject id", ValuationRequest{SubjectPropertyID: &missing}, http.StatusNotFound},
		{"unknown comparable id", ValuationRequest{SubjectProperty: &subject, ComparableIDs: []uint{missing}}, http.StatusNotFound},
		{"missing required feature", ValuationRequest{
			SubjectProperty:      &subject,
			ComparableProperties: []models.Property{apartment("A", 70, 300000)},
			RequiredFeatures:     []string{"parking"},
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/valuation/calculate", ts.appraiser, tt.req)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestCoefficientEndpoints(t *testing.T) {
	ts := newTestServer(t)
	in := models.CoefficientInput{FeatureName: "parking", CoefficientValue: 1500, Description: "per spot"}

	w := ts.do(t, http.MethodPost, "/api/adjustments/coefficients", ts.appraiser, in)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/adjustments/coefficients", ts.admin, in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var coef models.AdjustmentCoefficient
	decode(t, w, &coef)
	assert.True(t, coef.IsActive)
	assert.Equal(t, "root", coef.CreatedBy)

	w = ts.do(t, http.MethodPost, "/api/adjustments/coefficients", ts.admin, in)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/adjustments/features/parking", ts.appraiser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/adjustments/features/garden", ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/adjustments/apply", ts.appraiser, []models.Feature{
		{Name: "garden", Value: 1}, {Name: "parking", Value: 2},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var adjs []models.Adjustment
	decode(t, w, &adjs)
	require.Len(t, adjs, 1)
	assert.Equal(t, models.Adjustment{Feature: "parking", Value: 3000, Description: "per spot"}, adjs[0])

	w = ts.do(t, http.MethodPost, "/api/adjustments/validate", ts.appraiser, []models.CoefficientInput{
		{FeatureName: "parking", CoefficientValue: 1}, {FeatureName: "lift", CoefficientValue: -1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var verdict struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	decode(t, w, &verdict)
	assert.False(t, verdict.Valid)
	assert.Len(t, verdict.Errors, 2)

	path := fmt.Sprintf("/api/adjustments/coefficients/%d", coef.ID)
	w = ts.do(t, http.MethodPost, path+"/deactivate", ts.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/adjustments/coefficients", ts.appraiser, nil)
	var active []models.AdjustmentCoefficient
	decode(t, w, &active)
	assert.Empty(t, active)
	w = ts.do(t, http.MethodGet, "/api/adjustments/coefficients?active_only=false", ts.appraiser, nil)
	var all []models.AdjustmentCoefficient
	decode(t, w, &all)
	assert.Len(t, all, 1)

	w = ts.do(t, http.MethodDelete, path, ts.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, path, ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/auth/register", "", auth.RegisterInput{
		Email: "new@example.com", Username: "newbie", Password: "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var u models.User
	decode(t, w, &u)
	assert.Equal(t, models.RoleAppraiser, u.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = ts.do(t, http.MethodPost, "/auth/register", "", auth.RegisterInput{
		Email: "new@example.com", Username: "other", Password: "password123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "new@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decode(t, w, &login)
	assert.Equal(t, "bearer", login.TokenType)

	form := url.Values{"username": {"newbie"}, "password": {"password123"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	fw := httptest.NewRecorder()
	ts.router.ServeHTTP(fw, req)
	assert.Equal(t, http.StatusOK, fw.Code, fw.Body.String())

	w = ts.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "newbie", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &u)
	assert.Equal(t, "newbie", u.Username)

	w = ts.do(t, http.MethodPost, "/auth/refresh", login.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")

	w = ts.do(t, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExportEndpoints(t *testing.T) {
	ts := newTestServer(t)

	logger, _ := test.NewNullLogger()
	engine := valuation.NewEngine(valuation.NewCalculator(valuation.DefaultRates()), nil, logger)
	result, err := engine.Evaluate(apartment("Subject", 80, 0), []models.Property{
		apartment("Comp A", 70, 380000), apartment("Comp B", 90, 410000),
	})
	require.NoError(t, err)

	tests := []struct {
		path        string
		contentType string
		ext         string
	}{
		{"/api/export/pdf", contentTypePDF, ".pdf"},
		{"/api/export/excel", contentTypeExcel, ".xlsx"},
		{"/api/export/geojson", contentTypeGeoJSON, ".geojson"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, ts.appraiser, result)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			disposition := w.Header().Get("Content-Disposition")
			assert.Contains(t, disposition, "valuation_report_")
			assert.Contains(t, disposition, tt.ext)
			assert.NotZero(t, w.Body.Len())
		})
	}

	ts.store(t, apartment("Listed", 70, 380000))
	w := ts.do(t, http.MethodGet, "/api/export/properties", ts.appraiser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeExcel, w.Header().Get("Content-Type"))

	w = ts.do(t, http.MethodPost, "/api/export/pdf", ts.appraiser, "not a result")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeoEndpoints(t *testing.T) {
	ts := newTestServer(t)

	ts.store(t, apartment("Near", 70, 380000))
	far := apartment("Far", 70, 380000)
	far.Location = models.Location{Lat: 51.92, Lng: 4.48}
	ts.store(t, far)

	w := ts.do(t, http.MethodGet, "/api/geo/nearby?lat=52.37&lng=4.891&radius_km=2", ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var nearby []struct {
		Property   models.Property `json:"property"`
		DistanceKm float64         `json:"distance_km"`
	}
	decode(t, w, &nearby)
	require.Len(t, nearby, 1)
	assert.Equal(t, "Near", nearby[0].Property.Address)

	w = ts.do(t, http.MethodGet, "/api/geo/nearby?lat=95&lng=4", ts.appraiser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/geo/geocode?address=Damrak+1", ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "52.3745")

	w = ts.do(t, http.MethodGet, "/api/geo/geocode?address=Nowhere", ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/geo/reverse?lat=52.37&lng=4.89", ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Dam Square")

	unlocated := apartment("Damrak 1", 70, 380000)
	unlocated.Location = models.Location{}
	unlocated = ts.store(t, unlocated)

	w = ts.do(t, http.MethodPost, "/api/geo/update-coordinates", ts.appraiser, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, "/api/geo/update-coordinates", ts.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := ts.properties.GetProperty(context.Background(), unlocated.ID)
	require.NoError(t, err)
	assert.Equal(t, 52.3745, got.Location.Lat)
}

func TestAnalyticsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	subject := ts.store(t, apartment("Subject", 80, 400000))
	ts.store(t, apartment("Comp A", 70, 350000))
	ts.store(t, apartment("Comp B", 90, 450000))

	w := ts.do(t, http.MethodGet, "/api/analytics/stats?property_type=apartment", ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats models.PropertyStats
	decode(t, w, &stats)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 400000, stats.MedianPrice, 1e-6)

	w = ts.do(t, http.MethodGet, "/api/analytics/market-trends?days=7", ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trends analytics.MarketTrends
	decode(t, w, &trends)
	assert.Equal(t, 3, trends.TotalProperties)

	w = ts.do(t, http.MethodGet, "/api/analytics/market-trends?area_min=100&area_max=50", ts.appraiser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/analytics/properties/%d/comparison", subject.ID), ts.appraiser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cmp analytics.Comparison
	decode(t, w, &cmp)
	assert.Equal(t, 2, cmp.TotalComparables)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/analytics/properties/%d/adjustments", subject.ID), ts.appraiser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/properties", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
