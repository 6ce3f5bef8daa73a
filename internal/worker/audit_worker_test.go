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

type memAuditBuffer struct {
	events   []*model.AuditEvent
	flushErr error
}

func (b *memAuditBuffer) FlushAudit() ([]*model.AuditEvent, error) {
	if b.flushErr != nil {
		return nil, b.flushErr
	}
	events := b.events
	b.events = nil
	return events, nil
}

func (b *memAuditBuffer) RestoreAudit(events []*model.AuditEvent) error {
	b.events = append(events, b.events...)
	return nil
}

type memAuditSink struct {
	inserted []*model.AuditEvent
	err      error
}

func (s *memAuditSink) InsertEvents(_ context.Context, events []*model.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, events...)
	return nil
}

type memCounterStore struct {
	saved map[string]int64
	load  []*model.CounterSnapshot
	err   error
}

func (s *memCounterStore) SaveCounter(snap *model.CounterSnapshot) error {
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string]int64)
	}
	s.saved[snap.Name] = snap.Value
	return nil
}

func (s *memCounterStore) LoadCounters() ([]*model.CounterSnapshot, error) {
	return s.load, s.err
}

func auditEvents(n int) []*model.AuditEvent {
	events := make([]*model.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, &model.AuditEvent{
			EventID:    "evt",
			Mobile:     "9876543210",
			CheckName:  "count",
			Status:     model.StatusPass,
			OccurredAt: time.Now().UTC(),
		})
	}
	return events
}

func TestFlushOnceMovesEventsToSink(t *testing.T) {
	buffer := &memAuditBuffer{events: auditEvents(3)}
	sink := &memAuditSink{}
	registry := metrics.NewRegistry()
	w := NewAuditWorker(buffer, sink, &memCounterStore{}, registry, time.Minute, time.Minute)

	w.FlushOnce(context.Background())

	assert.Len(t, sink.inserted, 3)
	assert.Empty(t, buffer.events)
	assert.Equal(t, int64(3), registry.Get(metrics.AuditFlushed))
}

func TestFlushOnceRestoresBufferOnSinkFailure(t *testing.T) {
	buffer := &memAuditBuffer{events: auditEvents(2)}
	sink := &memAuditSink{err: assert.AnError}
	registry := metrics.NewRegistry()
	w := NewAuditWorker(buffer, sink, &memCounterStore{}, registry, time.Minute, time.Minute)

	w.FlushOnce(context.Background())

	assert.Empty(t, sink.inserted)
	assert.Len(t, buffer.events, 2)
	assert.Equal(t, int64(0), registry.Get(metrics.AuditFlushed))
}

func TestFlushOnceEmptyBufferSkipsSink(t *testing.T) {
	sink := &memAuditSink{err: assert.AnError}
	w := NewAuditWorker(&memAuditBuffer{}, sink, &memCounterStore{}, metrics.NewRegistry(), time.Minute, time.Minute)

	w.FlushOnce(context.Background())

	assert.Empty(t, sink.inserted)
}

func TestPersistCountersWritesSnapshot(t *testing.T) {
	registry := metrics.NewRegistry()
	registry.Add(metrics.SMSReceived, 7)
	registry.Inc(metrics.SyncPushed)

	store := &memCounterStore{}
	w := NewAuditWorker(&memAuditBuffer{}, &memAuditSink{}, store, registry, time.Minute, time.Minute)

	w.PersistCounters()

	assert.Equal(t, int64(7), store.saved[metrics.SMSReceived])
	assert.Equal(t, int64(1), store.saved[metrics.SyncPushed])
}

func TestRestoreCountersSeedsRegistry(t *testing.T) {
	store := &memCounterStore{load: []*model.CounterSnapshot{
		{Name: metrics.SMSReceived, Value: 42},
		{Name: metrics.SyncFailed, Value: 3},
	}}
	registry := metrics.NewRegistry()
	w := NewAuditWorker(&memAuditBuffer{}, &memAuditSink{}, store, registry, time.Minute, time.Minute)

	require.NoError(t, w.RestoreCounters())

	assert.Equal(t, int64(42), registry.Get(metrics.SMSReceived))
	assert.Equal(t, int64(3), registry.Get(metrics.SyncFailed))
}

func TestRestoreCountersPropagatesStoreError(t *testing.T) {
	store := &memCounterStore{err: assert.AnError}
	w := NewAuditWorker(&memAuditBuffer{}, &memAuditSink{}, store, metrics.NewRegistry(), time.Minute, time.Minute)

	assert.Error(t, w.RestoreCounters())
}
