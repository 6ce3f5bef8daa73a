package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sms-bridge/internal/events"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/pipeline"
	"sms-bridge/internal/util"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("too many registration attempts")
	ErrCountryNotAllowed = errors.New("country code not supported")
	ErrAttemptNotFound   = errors.New("no pending attempt for token")
	ErrMobileMismatch    = errors.New("token was issued to a different mobile")
	ErrNotVerified       = errors.New("mobile is not verified")
	ErrBlacklisted       = errors.New("mobile is blacklisted")
	ErrTokenMismatch     = errors.New("token does not match verified entry")
	ErrPinMismatch       = errors.New("pin and confirmation do not match")
	ErrRejected          = errors.New("sms rejected by validation")
)

const (
	registerRateWindow = time.Hour
	registerRateMax    = 5
)

// Re-registration policies for a mobile that already holds a live token.
const (
	PolicyReuse   = "reuse"   // return the existing token again
	PolicyReissue = "reissue" // invalidate the old token and mint a new one
)

// OnboardingStore is the cache surface the state machine runs on.
type OnboardingStore interface {
	SaveAttempt(attempt *model.OnboardingAttempt, ttl time.Duration) error
	GetAttempt(hash string) (*model.OnboardingAttempt, error)
	ActiveHashForMobile(mobile string) (string, error)
	DeleteAttempt(attempt *model.OnboardingAttempt) error
	AttemptTTL(hash string) (time.Duration, error)
	MarkVerified(attempt *model.OnboardingAttempt, entry *model.VerifiedMobile, ttl time.Duration) error
	GetVerified(mobile string) (*model.VerifiedMobile, error)
	UpdateVerified(entry *model.VerifiedMobile) error
	DeleteVerified(mobile string) error
}

// SyncEnqueuer adds completed registrations to the sync queue.
type SyncEnqueuer interface {
	EnqueueSync(entry *model.SyncQueueEntry) error
}

// RateStore throttles the register endpoint, tracks abusers and remembers
// completed verifications for the duplicate check.
type RateStore interface {
	IncrementRate(mobile string, window time.Duration) (int64, error)
	IncrementAbuse(mobile string) (int64, error)
	IsBlacklisted(mobile string) (bool, error)
	MarkValidated(mobile, deviceID string) error
}

// AuditRecorder buffers one lifecycle audit event. Satisfied by audit.Sink.
type AuditRecorder interface {
	Record(mobile, checkName string, status model.CheckStatus, reason string)
}

// Validator runs the fraud pipeline.
type Validator interface {
	Validate(input pipeline.Input, cfg *model.SettingsPayload) pipeline.Outcome
}

// SettingsSource yields the active settings payload.
type SettingsSource interface {
	Current() (*model.SettingsPayload, error)
}

// VerificationService drives the onboarding state machine: register issues
// an SMS token, the inbound SMS confirms it, pin setup queues the user for
// upstream sync.
type VerificationService struct {
	store    OnboardingStore
	queue    SyncEnqueuer
	rates    RateStore
	pipeline Validator
	settings SettingsSource
	hasher   *hashing.Hasher
	registry *metrics.Registry
	emitter  *events.Emitter
	auditor  AuditRecorder
	policy   string
}

func NewVerificationService(
	store OnboardingStore,
	queue SyncEnqueuer,
	rates RateStore,
	validator Validator,
	settings SettingsSource,
	hasher *hashing.Hasher,
	registry *metrics.Registry,
	emitter *events.Emitter,
	auditor AuditRecorder,
	policy string,
) *VerificationService {
	if policy != PolicyReissue {
		policy = PolicyReuse
	}
	return &VerificationService{
		store:    store,
		queue:    queue,
		rates:    rates,
		pipeline: validator,
		settings: settings,
		hasher:   hasher,
		registry: registry,
		emitter:  emitter,
		auditor:  auditor,
		policy:   policy,
	}
}

func (s *VerificationService) audit(mobile, event string, status model.CheckStatus, reason string) {
	if s.auditor != nil {
		s.auditor.Record(mobile, event, status, reason)
	}
}

// Register starts an onboarding attempt and returns the token the device
// must send back by SMS.
func (s *VerificationService) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegisterResponse, error) {
	cfg, err := s.settings.Current()
	if err != nil {
		return nil, err
	}

	mobile := util.NormalizeMobile(req.Mobile)
	if !util.IsValidMobile(mobile) {
		return nil, fmt.Errorf("%w: mobile %q", ErrInvalidInput, util.MaskMobile(req.Mobile))
	}

	if cfg.Checks.ForeignNumberEnabled {
		cc, ok := util.CountryCode(mobile)
		if !ok {
			return nil, fmt.Errorf("%w: mobile %q", ErrInvalidInput, util.MaskMobile(req.Mobile))
		}
		if !countryAllowed(cc, cfg.AllowedCountries) {
			return nil, fmt.Errorf("%w: %s", ErrCountryNotAllowed, cc)
		}
	}

	count, err := s.rates.IncrementRate(mobile, registerRateWindow)
	if err != nil {
		// Rate limiting degrades open: a cache error must not block signups.
		util.Warn("Rate counter unavailable", util.ErrorField(err))
	} else if count > registerRateMax {
		return nil, ErrRateLimited
	}

	// Blacklist fails closed: an unreadable mirror means fraud controls are
	// blind, so registration refuses rather than guesses.
	blocked, err := s.rates.IsBlacklisted(mobile)
	if err != nil {
		return nil, fmt.Errorf("blacklist check unavailable: %v", err)
	}
	if blocked {
		return nil, ErrBlacklisted
	}

	// At most one live token per mobile. What happens to the old one is
	// policy: reuse hands it back, reissue replaces it.
	if existing, err := s.store.ActiveHashForMobile(mobile); err == nil && existing != "" {
		if s.policy == PolicyReuse {
			ttl, err := s.store.AttemptTTL(existing)
			if err == nil && ttl > 0 {
				return &model.RegisterResponse{
					Hash:      existing,
					ExpiresAt: time.Now().UTC().Add(ttl),
				}, nil
			}
		} else if attempt, err := s.store.GetAttempt(existing); err == nil {
			if err := s.store.DeleteAttempt(attempt); err != nil {
				return nil, fmt.Errorf("failed to reissue token: %w", err)
			}
		}
	}

	now := time.Now().UTC()
	hash, err := s.hasher.GenerateToken(mobile, cfg.SecretKey, cfg.HashLength, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	attempt := &model.OnboardingAttempt{
		Mobile:    mobile,
		Hash:      hash,
		CreatedAt: now,
		Email:     req.Email,
		DeviceID:  req.DeviceID,
		AppID:     req.AppID,
	}

	ttl := cfg.AttemptTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	if err := s.store.SaveAttempt(attempt, ttl); err != nil {
		return nil, err
	}

	s.audit(mobile, "hash_gen", model.StatusPass, "")
	s.emitter.Emit(ctx, events.TypeRegistered, mobile, hash, "")

	util.Info("Onboarding attempt registered",
		util.String("mobile", util.MaskMobile(mobile)),
		util.String("hash", hash))

	return &model.RegisterResponse{
		Hash:      hash,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// ReceiveSMS processes a gateway callback. A rejection returns ErrRejected
// wrapped with the failing check; the handler still answers the gateway 200.
func (s *VerificationService) ReceiveSMS(ctx context.Context, req *model.InboundSMSRequest) error {
	cfg, err := s.settings.Current()
	if err != nil {
		return err
	}

	s.registry.Inc(metrics.SMSReceived)

	mobile := util.NormalizeMobile(req.Sender)

	outcome := s.pipeline.Validate(pipeline.Input{
		Mobile: mobile,
		Body:   req.Body,
	}, cfg)
	if !outcome.Passed {
		s.reject(mobile, outcome.FailedCheck)
		return fmt.Errorf("%w: %s (%s)", ErrRejected, outcome.FailedCheck, outcome.Reason)
	}

	attempt := outcome.Attempt
	if attempt == nil {
		// Header check disabled, so no token was resolved. Nothing to verify.
		s.reject(mobile, "no attempt resolved")
		return fmt.Errorf("%w: no attempt resolved", ErrAttemptNotFound)
	}

	if attempt.Mobile != mobile {
		s.reject(mobile, "sender does not match token")
		return ErrMobileMismatch
	}

	ttl := cfg.VerifiedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	entry := &model.VerifiedMobile{
		Mobile:     mobile,
		Hash:       attempt.Hash,
		VerifiedAt: time.Now().UTC(),
		Email:      attempt.Email,
		DeviceID:   attempt.DeviceID,
	}

	if err := s.store.MarkVerified(attempt, entry, ttl); err != nil {
		return err
	}

	// Feed the duplicate check. Advisory: a write failure must not undo the
	// verification that already happened.
	if err := s.rates.MarkValidated(mobile, attempt.DeviceID); err != nil {
		util.Warn("Failed to mark mobile+device validated", util.ErrorField(err))
	}

	s.registry.Inc(metrics.SMSVerified)
	s.audit(mobile, "sms_verified", model.StatusPass, "")
	s.emitter.Emit(ctx, events.TypeVerified, mobile, attempt.Hash, "")

	return nil
}

// CollectPin attaches the PIN digest to a verified mobile and queues it for
// upstream sync. The verified entry is consumed; a second call reports
// ErrNotVerified.
func (s *VerificationService) CollectPin(ctx context.Context, req *model.PinSetupRequest) error {
	if _, err := s.settings.Current(); err != nil {
		return err
	}

	if req.Pin != req.ConfirmPin {
		return ErrPinMismatch
	}

	mobile := util.NormalizeMobile(req.Mobile)

	entry, err := s.store.GetVerified(mobile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotVerified, err)
	}

	if req.Hash != entry.Hash {
		return ErrTokenMismatch
	}

	entry.PinDigest = s.hasher.HashPIN(req.Pin, mobile, entry.Hash)

	queued := &model.SyncQueueEntry{
		Mobile:     entry.Mobile,
		Hash:       entry.Hash,
		PinDigest:  entry.PinDigest,
		Email:      entry.Email,
		VerifiedAt: entry.VerifiedAt,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := s.queue.EnqueueSync(queued); err != nil {
		return err
	}

	// Consume the verified entry only after the queue write succeeded.
	if err := s.store.DeleteVerified(mobile); err != nil {
		util.Warn("Failed to delete consumed verified entry", util.ErrorField(err))
	}

	s.audit(mobile, "pin_collected", model.StatusPass, "")

	util.Info("Pin collected, user queued for sync",
		util.String("mobile", util.MaskMobile(mobile)),
		util.String("hash", entry.Hash))

	return nil
}

func (s *VerificationService) reject(mobile, reason string) {
	s.registry.Inc(metrics.SMSRejected)
	s.audit(mobile, "sms_failed", model.StatusFail, reason)
	if _, err := s.rates.IncrementAbuse(mobile); err != nil {
		util.Warn("Failed to increment abuse counter", util.ErrorField(err))
	}
}

func countryAllowed(cc string, allowed []string) bool {
	for _, a := range allowed {
		if cc == a {
			return true
		}
	}
	return false
}
