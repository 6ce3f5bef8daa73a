package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sms-bridge/internal/model"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// HealthChecker reports per-dependency health, keyed by dependency name.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// BridgeHandler handles HTTP requests for the verification bridge.
type BridgeHandler struct {
	verification *service.VerificationService
	recovery     *service.RecoveryService
	settings     *settings.Provider
	health       HealthChecker
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewBridgeHandler(
	verification *service.VerificationService,
	recovery *service.RecoveryService,
	settingsProvider *settings.Provider,
	health HealthChecker,
	logger *zap.Logger,
) *BridgeHandler {
	return &BridgeHandler{
		verification: verification,
		recovery:     recovery,
		settings:     settingsProvider,
		health:       health,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all bridge routes
func (h *BridgeHandler) RegisterRoutes(router chi.Router) {
	router.Route("/onboarding", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/pin-setup", h.PinSetup)
	})

	// Gateway callback. Guarded by the shared API key, not by TLS client auth.
	router.Route("/sms", func(r chi.Router) {
		r.With(h.requireAPIKey).Post("/receive", h.ReceiveSMS)
	})

	router.Route("/admin", func(r chi.Router) {
		r.With(h.requireAPIKey).Post("/trigger-recovery", h.TriggerRecovery)
		r.With(h.requireAPIKey).Get("/settings", h.GetSettings)
		r.With(h.requireAPIKey).Put("/settings", h.UpdateSettings)
	})
}

// requireAPIKey rejects requests that don't carry the shared key from the
// active settings payload. An empty configured key disables the check so a
// fresh deployment can be configured through its own admin endpoints.
func (h *BridgeHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, err := h.settings.Current()
		if err != nil {
			h.respondWithError(w, http.StatusServiceUnavailable, err, "Bridge not configured")
			return
		}
		if cfg.APIKey != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.APIKey)) != 1 {
				h.respondWithError(w, http.StatusUnauthorized, errors.New("invalid api key"), "Unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Register handles onboarding registration
// @Summary Register a mobile for verification
// @Description Issue a verification token the device must send back over SMS
// @Tags onboarding
// @Accept json
// @Produce json
// @Param request body model.RegisterRequest true "Registration request"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 503 {object} Response
// @Router /onboarding/register [post]
func (h *BridgeHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid registration request")
		return
	}

	resp, err := h.verification.Register(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to register mobile")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(resp, "Verification token issued"))
	h.logger.Info("Mobile registered via HTTP",
		util.String("mobile", util.MaskMobile(req.Mobile)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// ReceiveSMS handles the gateway callback for an inbound SMS. The gateway
// only cares that we took delivery, so a rejected SMS still answers 200 with
// a rejected status in the body.
// @Summary Receive an inbound SMS
// @Tags sms
// @Accept json
// @Produce json
// @Param request body model.InboundSMSRequest true "Inbound SMS"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /sms/receive [post]
func (h *BridgeHandler) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req model.InboundSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid SMS payload")
		return
	}

	err := h.verification.ReceiveSMS(ctx, &req)
	switch {
	case err == nil:
		h.respondWithJSON(w, http.StatusOK,
			successResponse(map[string]string{"status": "verified"}, "SMS accepted"))
	case errors.Is(err, service.ErrRejected),
		errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrMobileMismatch),
		errors.Is(err, service.ErrInvalidInput):
		h.respondWithJSON(w, http.StatusOK,
			successResponse(map[string]string{"status": "rejected"}, "SMS discarded"))
	default:
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to process SMS")
		return
	}

	h.logger.Debug("Inbound SMS processed via HTTP",
		util.String("sender", util.MaskMobile(req.Sender)),
		util.Bool("verified", err == nil),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ReceiveSMS"),
	)
}

// PinSetup handles PIN collection for a verified mobile
// @Summary Attach a PIN to a verified mobile
// @Tags onboarding
// @Accept json
// @Produce json
// @Param request body model.PinSetupRequest true "PIN setup request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /onboarding/pin-setup [post]
func (h *BridgeHandler) PinSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req model.PinSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid PIN setup request")
		return
	}

	if err := h.verification.CollectPin(ctx, &req); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to set PIN")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "PIN accepted, sync queued"))
	h.logger.Info("PIN collected via HTTP",
		util.String("mobile", util.MaskMobile(req.Mobile)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "PinSetup"),
	)
}

// TriggerRecovery handles a manual recovery run
// @Summary Drain the sync queue in one signed batch
// @Tags admin
// @Accept json
// @Produce json
// @Param request body model.RecoveryRequest true "Recovery trigger"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 502 {object} Response
// @Router /admin/trigger-recovery [post]
func (h *BridgeHandler) TriggerRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req model.RecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid recovery request")
		return
	}

	result, err := h.recovery.TriggerRecovery(ctx, req.TriggeredBy)
	if err != nil {
		// result still describes what was drained and restored.
		h.respondWithJSON(w, http.StatusBadGateway, Response{
			Success: false,
			Data:    result,
			Error:   err.Error(),
			Message: "Recovery push failed, queue restored",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Recovery completed"))
	h.logger.Info("Recovery triggered via HTTP",
		util.String("triggered_by", req.TriggeredBy),
		util.Int("pushed", result.Pushed),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "TriggerRecovery"),
	)
}

// GetSettings returns the active settings payload with secrets blanked.
// @Summary Get active bridge settings
// @Tags admin
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /admin/settings [get]
func (h *BridgeHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Current()
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to load settings")
		return
	}

	sanitized := *cfg
	sanitized.SecretKey = ""
	sanitized.APIKey = ""

	h.respondWithJSON(w, http.StatusOK, successResponse(sanitized, "Settings retrieved successfully"))
}

// UpdateSettings replaces the active settings payload
// @Summary Update bridge settings
// @Tags admin
// @Accept json
// @Produce json
// @Param request body model.SettingsPayload true "New settings payload"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /admin/settings [put]
func (h *BridgeHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var payload model.SettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if payload.SecretKey == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("secret_key is required"), "Invalid settings payload")
		return
	}

	if err := h.settings.Update(&payload); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to update settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Settings updated successfully"))
	h.logger.Warn("Bridge settings updated via HTTP",
		util.Int("version", payload.Version),
		util.String("updated_by", payload.UpdatedBy),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UpdateSettings"),
	)
}

// HealthCheck reports the health of every backing dependency.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /health [get]
func (h *BridgeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	statuses := make(map[string]string)
	healthy := true
	for name, err := range h.health.HealthCheck(ctx) {
		if err != nil {
			statuses[name] = err.Error()
			healthy = false
		} else {
			statuses[name] = "ok"
		}
	}

	if !healthy {
		h.respondWithJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    statuses,
			Message: "Service unhealthy",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(statuses, "Service is healthy"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *BridgeHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *BridgeHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *BridgeHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrPinMismatch):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrBlacklisted), errors.Is(err, service.ErrCountryNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAttemptNotFound), errors.Is(err, service.ErrNotVerified):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMobileMismatch), errors.Is(err, service.ErrTokenMismatch):
		return http.StatusConflict
	case errors.Is(err, settings.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
