package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/model"
)

type fakeCache struct {
	payload *model.SettingsPayload
	getErr  error
	setErr  error
	sets    int
}

func (f *fakeCache) GetSettings() (*model.SettingsPayload, error) {
	return f.payload, f.getErr
}

func (f *fakeCache) SetSettings(p *model.SettingsPayload) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.payload = p
	f.sets++
	return nil
}

type fakeHistory struct {
	payload *model.SettingsPayload
	err     error
	saves   int
	saveErr error
}

func (f *fakeHistory) SaveSettings(p *model.SettingsPayload) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.payload = p
	f.saves++
	return nil
}

func (f *fakeHistory) LatestSettings() (*model.SettingsPayload, error) {
	return f.payload, f.err
}

func samplePayload(version int) *model.SettingsPayload {
	return &model.SettingsPayload{
		Version:     version,
		SecretKey:   "secret",
		MaxSMSCount: 5,
		AttemptTTL:  15 * time.Minute,
		VerifiedTTL: time.Hour,
		Checks: model.CheckSettings{
			HeaderHashEnabled:    true,
			ForeignNumberEnabled: true,
			CountEnabled:         true,
			BlacklistEnabled:     true,
			DuplicateEnabled:     true,
		},
	}
}

func TestCurrentFromCache(t *testing.T) {
	cache := &fakeCache{payload: samplePayload(1)}
	p := NewProvider(cache, &fakeHistory{})

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestCurrentNotConfigured(t *testing.T) {
	p := NewProvider(&fakeCache{}, &fakeHistory{})

	_, err := p.Current()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCurrentFallsBackToHistory(t *testing.T) {
	cache := &fakeCache{}
	history := &fakeHistory{payload: samplePayload(3)}
	p := NewProvider(cache, history)

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)

	// The fallback repopulates Redis.
	assert.Equal(t, 1, cache.sets)
}

func TestCurrentServesStaleOnOutage(t *testing.T) {
	cache := &fakeCache{payload: samplePayload(2)}
	p := NewProvider(cache, &fakeHistory{})

	_, err := p.Current()
	require.NoError(t, err)

	// Both stores go dark; the cached copy must survive an invalidate-free
	// refresh window.
	cache.payload = nil
	cache.getErr = errors.New("redis down")
	p.Invalidate()
	p.mu.Lock()
	p.current = samplePayload(2)
	p.fetchedAt = time.Now().Add(-2 * cacheTTL)
	p.mu.Unlock()

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateWritesHistoryFirst(t *testing.T) {
	cache := &fakeCache{}
	history := &fakeHistory{}
	p := NewProvider(cache, history)

	require.NoError(t, p.Update(samplePayload(5)))
	assert.Equal(t, 1, history.saves)
	assert.Equal(t, 1, cache.sets)

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 5, got.Version)
}

func TestUpdateFillsOperationalDefaults(t *testing.T) {
	p := NewProvider(&fakeCache{}, &fakeHistory{})

	payload := &model.SettingsPayload{Version: 1, SecretKey: "secret"}
	require.NoError(t, p.Update(payload))

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, "ONBOARD:", got.AllowedPrefix)
	assert.Equal(t, 8, got.HashLength)
	assert.Equal(t, 5, got.MaxSMSCount)
	assert.Equal(t, 60*time.Second, got.CountWindow)
	assert.Equal(t, 15*time.Minute, got.AttemptTTL)
	assert.Equal(t, time.Hour, got.VerifiedTTL)
}

func TestUpdateKeepsExplicitValues(t *testing.T) {
	p := NewProvider(&fakeCache{}, &fakeHistory{})

	payload := samplePayload(1)
	payload.AllowedPrefix = "VERIFY:"
	payload.HashLength = 12
	payload.CountWindow = 2 * time.Minute
	require.NoError(t, p.Update(payload))

	got, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, "VERIFY:", got.AllowedPrefix)
	assert.Equal(t, 12, got.HashLength)
	assert.Equal(t, 2*time.Minute, got.CountWindow)
}

func TestUpdateRejectedWhenHistoryFails(t *testing.T) {
	cache := &fakeCache{}
	history := &fakeHistory{saveErr: errors.New("scylla down")}
	p := NewProvider(cache, history)

	err := p.Update(samplePayload(5))
	require.Error(t, err)
	assert.Zero(t, cache.sets, "cache must not be written when the durable save fails")
}
