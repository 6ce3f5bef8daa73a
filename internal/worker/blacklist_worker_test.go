package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
)

type memBlacklistSource struct {
	entries []*model.BlacklistEntry
	listErr error
	addErr  error
}

func (s *memBlacklistSource) Add(entry *model.BlacklistEntry) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memBlacklistSource) ListAll() ([]*model.BlacklistEntry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.entries, nil
}

type memBlacklistMirror struct {
	set        map[string]bool
	abuse      map[string]int64
	replaceErr error
}

func (m *memBlacklistMirror) ReplaceBlacklist(mobiles []string) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.set = make(map[string]bool, len(mobiles))
	for _, mobile := range mobiles {
		m.set[mobile] = true
	}
	return nil
}

func (m *memBlacklistMirror) AbuseCounters() (map[string]int64, error) {
	return m.abuse, nil
}

func (m *memBlacklistMirror) ClearAbuseCounter(mobile string) error {
	delete(m.abuse, mobile)
	return nil
}

func TestRefreshReplacesMirror(t *testing.T) {
	source := &memBlacklistSource{entries: []*model.BlacklistEntry{
		{Mobile: "9876543210"},
		{Mobile: "9876543211"},
	}}
	mirror := &memBlacklistMirror{set: map[string]bool{"9999999999": true}}
	registry := metrics.NewRegistry()
	w := NewBlacklistWorker(source, mirror, registry, nil, 10, time.Minute)

	w.Refresh()

	assert.True(t, mirror.set["9876543210"])
	assert.True(t, mirror.set["9876543211"])
	assert.False(t, mirror.set["9999999999"])
	assert.Equal(t, int64(1), registry.Get(metrics.BlacklistRefresh))
}

func TestRefreshSkipsExpiredEntries(t *testing.T) {
	source := &memBlacklistSource{entries: []*model.BlacklistEntry{
		{Mobile: "9876543210", ExpiresAt: time.Now().UTC().Add(-time.Hour)},
		{Mobile: "9876543211", ExpiresAt: time.Now().UTC().Add(time.Hour)},
		{Mobile: "9876543212"},
	}}
	mirror := &memBlacklistMirror{}
	w := NewBlacklistWorker(source, mirror, metrics.NewRegistry(), nil, 10, time.Minute)

	w.Refresh()

	assert.False(t, mirror.set["9876543210"])
	assert.True(t, mirror.set["9876543211"])
	assert.True(t, mirror.set["9876543212"])
}

func TestRefreshKeepsMirrorWhenSourceDown(t *testing.T) {
	source := &memBlacklistSource{listErr: assert.AnError}
	mirror := &memBlacklistMirror{set: map[string]bool{"9876543210": true}}
	registry := metrics.NewRegistry()
	w := NewBlacklistWorker(source, mirror, registry, nil, 10, time.Minute)

	w.Refresh()

	assert.True(t, mirror.set["9876543210"])
	assert.Equal(t, int64(0), registry.Get(metrics.BlacklistRefresh))
}

func TestTickPromotesAbusersOverThreshold(t *testing.T) {
	source := &memBlacklistSource{}
	mirror := &memBlacklistMirror{abuse: map[string]int64{
		"9876543210": 12,
		"9876543211": 3,
	}}
	w := NewBlacklistWorker(source, mirror, metrics.NewRegistry(), nil, 10, time.Minute)

	w.Tick(context.Background())

	require.Len(t, source.entries, 1)
	assert.Equal(t, "9876543210", source.entries[0].Mobile)
	assert.Equal(t, "abuse-detector", source.entries[0].AddedBy)

	// Promoted mobile lands in the refreshed mirror and its counter resets;
	// the under-threshold counter keeps accumulating.
	assert.True(t, mirror.set["9876543210"])
	_, cleared := mirror.abuse["9876543210"]
	assert.False(t, cleared)
	assert.Equal(t, int64(3), mirror.abuse["9876543211"])
}

func TestTickKeepsCounterWhenDurableWriteFails(t *testing.T) {
	source := &memBlacklistSource{addErr: assert.AnError}
	mirror := &memBlacklistMirror{abuse: map[string]int64{"9876543210": 12}}
	w := NewBlacklistWorker(source, mirror, metrics.NewRegistry(), nil, 10, time.Minute)

	w.Tick(context.Background())

	assert.Empty(t, source.entries)
	assert.Equal(t, int64(12), mirror.abuse["9876543210"])
}
