package settings

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// ErrNotConfigured is returned when neither Redis nor the durable history
// holds a settings payload. Every operation that needs settings refuses to
// run rather than guess defaults for secrets.
var ErrNotConfigured = errors.New("bridge not configured: no active settings payload")

// cacheTTL bounds how stale the in-process copy may be. Operator updates
// land within this window on every instance.
const cacheTTL = 60 * time.Second

// Cache is the Redis side of the settings store (config:current).
type Cache interface {
	GetSettings() (*model.SettingsPayload, error)
	SetSettings(payload *model.SettingsPayload) error
}

// History is the durable Scylla fallback and version log.
type History interface {
	SaveSettings(payload *model.SettingsPayload) error
	LatestSettings() (*model.SettingsPayload, error)
}

// Provider serves the active settings payload with a short in-process cache
// in front of Redis, falling back to the durable history when Redis is empty
// (for example after a cache wipe).
type Provider struct {
	cache   Cache
	history History

	mu        sync.RWMutex
	current   *model.SettingsPayload
	fetchedAt time.Time
}

func NewProvider(cache Cache, history History) *Provider {
	return &Provider{cache: cache, history: history}
}

// Current returns the active payload or ErrNotConfigured.
func (p *Provider) Current() (*model.SettingsPayload, error) {
	p.mu.RLock()
	if p.current != nil && time.Since(p.fetchedAt) < cacheTTL {
		payload := p.current
		p.mu.RUnlock()
		return payload, nil
	}
	p.mu.RUnlock()

	return p.refresh()
}

func (p *Provider) refresh() (*model.SettingsPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if p.current != nil && time.Since(p.fetchedAt) < cacheTTL {
		return p.current, nil
	}

	payload, err := p.cache.GetSettings()
	if err != nil {
		util.Warn("Settings read from Redis failed, trying durable history", zap.Error(err))
	}

	if payload == nil {
		if p.history == nil {
			if err != nil {
				return nil, err
			}
			return nil, ErrNotConfigured
		}
		payload, err = p.history.LatestSettings()
		if err != nil || payload == nil {
			// Serve the stale copy if we still have one; a transient
			// store outage should not flip the bridge to unconfigured.
			if p.current != nil {
				util.Warn("Serving stale settings payload", zap.Error(err))
				return p.current, nil
			}
			return nil, ErrNotConfigured
		}

		// Repopulate Redis so the next instance skips the fallback.
		if setErr := p.cache.SetSettings(payload); setErr != nil {
			util.Warn("Failed to repopulate settings cache", zap.Error(setErr))
		}
	}

	p.current = payload
	p.fetchedAt = time.Now()
	return payload, nil
}

// Update replaces the active payload: durable history first, then Redis,
// then the local cache. If the durable write fails the update is rejected.
// Zero-valued operational fields are filled with their defaults so readers
// never have to guess.
func (p *Provider) Update(payload *model.SettingsPayload) error {
	payload.UpdatedAt = time.Now().UTC()
	applyDefaults(payload)

	if p.history != nil {
		if err := p.history.SaveSettings(payload); err != nil {
			return err
		}
	}

	if err := p.cache.SetSettings(payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = payload
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	util.Info("Settings payload updated",
		zap.Int("version", payload.Version),
		zap.String("updated_by", payload.UpdatedBy))

	return nil
}

func applyDefaults(payload *model.SettingsPayload) {
	if payload.AllowedPrefix == "" {
		payload.AllowedPrefix = "ONBOARD:"
	}
	if payload.HashLength <= 0 {
		payload.HashLength = 8
	}
	if payload.MaxSMSCount <= 0 {
		payload.MaxSMSCount = 5
	}
	if payload.CountWindow <= 0 {
		payload.CountWindow = 60 * time.Second
	}
	if payload.AttemptTTL <= 0 {
		payload.AttemptTTL = 15 * time.Minute
	}
	if payload.VerifiedTTL <= 0 {
		payload.VerifiedTTL = time.Hour
	}
}

// Invalidate drops the in-process copy, forcing the next Current call to hit
// the stores. Used by tests and the admin settings endpoint.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}
