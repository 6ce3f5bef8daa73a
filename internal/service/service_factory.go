package service

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/events"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	store    OnboardingStore
	queue    SyncEnqueuer
	drain    SyncQueue
	rates    RateStore
	pipeline Validator
	settings SettingsSource
	hasher   *hashing.Hasher
	registry *metrics.Registry
	emitter  *events.Emitter
	auditor  AuditRecorder
	policy   string
	timeout  time.Duration
	logger   *zap.Logger

	verificationService *VerificationService
	recoveryService     *RecoveryService
}

func NewServiceFactory(
	store OnboardingStore,
	queue SyncEnqueuer,
	drain SyncQueue,
	rates RateStore,
	validator Validator,
	settings SettingsSource,
	hasher *hashing.Hasher,
	registry *metrics.Registry,
	emitter *events.Emitter,
	auditor AuditRecorder,
	policy string,
	httpTimeout time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		store:    store,
		queue:    queue,
		drain:    drain,
		rates:    rates,
		pipeline: validator,
		settings: settings,
		hasher:   hasher,
		registry: registry,
		emitter:  emitter,
		auditor:  auditor,
		policy:   policy,
		timeout:  httpTimeout,
		logger:   logger,
	}
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.store,
			f.queue,
			f.rates,
			f.pipeline,
			f.settings,
			f.hasher,
			f.registry,
			f.emitter,
			f.auditor,
			f.policy,
		)
	}
	return f.verificationService
}

// RecoveryService returns the recovery service instance (singleton)
func (f *ServiceFactory) RecoveryService() *RecoveryService {
	if f.recoveryService == nil {
		f.recoveryService = NewRecoveryService(
			f.drain,
			f.settings,
			&http.Client{Timeout: f.timeout},
			f.registry,
			f.emitter,
			f.auditor,
		)
	}
	return f.recoveryService
}
