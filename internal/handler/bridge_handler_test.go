package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sms-bridge/internal/config"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/pipeline"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
)

const testAPIKey = "gateway-key"

// -------------------- fakes --------------------

type fakeSettingsCache struct {
	payload *model.SettingsPayload
}

func (c *fakeSettingsCache) GetSettings() (*model.SettingsPayload, error) {
	return c.payload, nil
}

func (c *fakeSettingsCache) SetSettings(payload *model.SettingsPayload) error {
	c.payload = payload
	return nil
}

type nopStore struct {
	verified map[string]*model.VerifiedMobile
}

func (s *nopStore) SaveAttempt(*model.OnboardingAttempt, time.Duration) error { return nil }
func (s *nopStore) GetAttempt(string) (*model.OnboardingAttempt, error) {
	return nil, errors.New("key not found")
}
func (s *nopStore) ActiveHashForMobile(string) (string, error) { return "", nil }
func (s *nopStore) DeleteAttempt(*model.OnboardingAttempt) error { return nil }
func (s *nopStore) AttemptTTL(string) (time.Duration, error)     { return 0, nil }
func (s *nopStore) MarkVerified(*model.OnboardingAttempt, *model.VerifiedMobile, time.Duration) error {
	return nil
}
func (s *nopStore) GetVerified(mobile string) (*model.VerifiedMobile, error) {
	if v, ok := s.verified[mobile]; ok {
		return v, nil
	}
	return nil, errors.New("no verified entry")
}
func (s *nopStore) UpdateVerified(*model.VerifiedMobile) error { return nil }
func (s *nopStore) DeleteVerified(string) error                { return nil }

type nopQueue struct{}

func (nopQueue) EnqueueSync(*model.SyncQueueEntry) error { return nil }

type nopRates struct{}

func (nopRates) IncrementRate(string, time.Duration) (int64, error) { return 1, nil }
func (nopRates) IncrementAbuse(string) (int64, error)               { return 1, nil }
func (nopRates) IsBlacklisted(string) (bool, error)                 { return false, nil }
func (nopRates) MarkValidated(string, string) error                 { return nil }

type rejectValidator struct {
	pass    bool
	attempt *model.OnboardingAttempt
}

func (v rejectValidator) Validate(pipeline.Input, *model.SettingsPayload) pipeline.Outcome {
	if v.pass {
		return pipeline.Outcome{Passed: true, Attempt: v.attempt}
	}
	return pipeline.Outcome{FailedCheck: "blacklist", Reason: "mobile is blacklisted"}
}

type staticHealth struct {
	statuses map[string]error
}

func (h staticHealth) HealthCheck(context.Context) map[string]error {
	return h.statuses
}

// -------------------- harness --------------------

func testHandler(t *testing.T, pass bool) *BridgeHandler {
	t.Helper()
	return testHandlerWithStore(t, pass, &nopStore{})
}

func testHandlerWithStore(t *testing.T, pass bool, store *nopStore) *BridgeHandler {
	t.Helper()

	payload := &model.SettingsPayload{
		Version:       1,
		SecretKey:     "test-secret",
		APIKey:        testAPIKey,
		AllowedPrefix: "ONBOARD:",
		HashLength:    8,
		AttemptTTL:    15 * time.Minute,
		VerifiedTTL:   time.Hour,
		MaxSMSCount:   3,
	}
	provider := settings.NewProvider(&fakeSettingsCache{payload: payload}, nil)

	hasher := hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})

	verification := service.NewVerificationService(
		store, nopQueue{}, nopRates{}, rejectValidator{pass: pass},
		provider, hasher, metrics.NewRegistry(), nil, nil, service.PolicyReuse)

	return NewBridgeHandler(verification, nil, provider,
		staticHealth{statuses: map[string]error{"redis": nil}}, zap.NewNop())
}

func postJSON(router chi.Router, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func testRouter(h *BridgeHandler) chi.Router {
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	router.Get("/health", h.HealthCheck)
	return router
}

// -------------------- tests --------------------

func TestRegisterIssuesToken(t *testing.T) {
	router := testRouter(testHandler(t, true))

	rec := postJSON(router, "/api/v1/onboarding/register", "",
		model.RegisterRequest{Mobile: "+919876543210"})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Len(t, data["hash"], hashing.DefaultTokenLength)
}

func TestRegisterRejectsBadMobile(t *testing.T) {
	router := testRouter(testHandler(t, true))

	rec := postJSON(router, "/api/v1/onboarding/register", "",
		model.RegisterRequest{Mobile: "12ab"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveSMSRequiresAPIKey(t *testing.T) {
	router := testRouter(testHandler(t, true))

	rec := postJSON(router, "/api/v1/sms/receive", "",
		model.InboundSMSRequest{Sender: "+919876543210", Body: "hello"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReceiveSMSRejectedStillAnswers200(t *testing.T) {
	router := testRouter(testHandler(t, false))

	rec := postJSON(router, "/api/v1/sms/receive", testAPIKey,
		model.InboundSMSRequest{Sender: "+919876543210", Body: "ABCDEFGH"})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "rejected", data["status"])
}

func TestReceiveSMSUnknownTokenAnswers200(t *testing.T) {
	// Checks succeed but no live attempt resolved from the body.
	router := testRouter(testHandler(t, true))

	rec := postJSON(router, "/api/v1/sms/receive", testAPIKey,
		model.InboundSMSRequest{Sender: "+919876543210", Body: "ONBOARD:ABCDEF23"})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "rejected", data["status"])
}

func TestPinSetupWithoutVerificationIs404(t *testing.T) {
	router := testRouter(testHandler(t, true))

	rec := postJSON(router, "/api/v1/onboarding/pin-setup", "",
		model.PinSetupRequest{Mobile: "+919876543210", Pin: "1234", ConfirmPin: "1234", Hash: "ABCDEF23"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPinSetupTokenMismatchIs409(t *testing.T) {
	store := &nopStore{verified: map[string]*model.VerifiedMobile{
		"+919876543210": {Mobile: "+919876543210", Hash: "RIGHT234"},
	}}
	router := testRouter(testHandlerWithStore(t, true, store))

	rec := postJSON(router, "/api/v1/onboarding/pin-setup", "",
		model.PinSetupRequest{Mobile: "+919876543210", Pin: "1234", ConfirmPin: "1234", Hash: "WRONG234"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthCheckReportsStatuses(t *testing.T) {
	h := testHandler(t, true)
	router := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["redis"])
}

func TestHealthCheckUnhealthyIs503(t *testing.T) {
	h := testHandler(t, true)
	h.health = staticHealth{statuses: map[string]error{"redis": assert.AnError}}
	router := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
