package worker

import (
	"context"
	"time"

	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// AuditBuffer is the Redis side of the audit pipeline.
type AuditBuffer interface {
	FlushAudit() ([]*model.AuditEvent, error)
	RestoreAudit(events []*model.AuditEvent) error
}

// AuditSink is the columnar store audit events land in.
type AuditSink interface {
	InsertEvents(ctx context.Context, events []*model.AuditEvent) error
}

// CounterStore persists metric counters across restarts.
type CounterStore interface {
	SaveCounter(snapshot *model.CounterSnapshot) error
	LoadCounters() ([]*model.CounterSnapshot, error)
}

// AuditWorker runs two loops: the buffer flush, which moves batched audit
// events from Redis into ClickHouse, and the counter persistence loop, which
// snapshots the in-process counters to Scylla so restarts don't zero them.
type AuditWorker struct {
	buffer          AuditBuffer
	sink            AuditSink
	counters        CounterStore
	registry        *metrics.Registry
	flushInterval   time.Duration
	persistInterval time.Duration
}

func NewAuditWorker(
	buffer AuditBuffer,
	sink AuditSink,
	counters CounterStore,
	registry *metrics.Registry,
	flushInterval time.Duration,
	persistInterval time.Duration,
) *AuditWorker {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Minute
	}
	if persistInterval <= 0 {
		persistInterval = time.Minute
	}
	return &AuditWorker{
		buffer:          buffer,
		sink:            sink,
		counters:        counters,
		registry:        registry,
		flushInterval:   flushInterval,
		persistInterval: persistInterval,
	}
}

// RestoreCounters loads the last persisted counter values into the registry.
// Call once at startup before any worker runs.
func (w *AuditWorker) RestoreCounters() error {
	snapshots, err := w.counters.LoadCounters()
	if err != nil {
		return err
	}
	for _, snap := range snapshots {
		w.registry.Restore(snap.Name, snap.Value)
	}
	if len(snapshots) > 0 {
		util.Info("Metric counters restored", util.Int("count", len(snapshots)))
	}
	return nil
}

func (w *AuditWorker) Run(ctx context.Context) error {
	util.Info("Audit worker started",
		util.Duration("flush_interval", w.flushInterval),
		util.Duration("persist_interval", w.persistInterval))

	flush := time.NewTimer(w.flushInterval)
	persist := time.NewTimer(w.persistInterval)
	defer flush.Stop()
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			util.Info("Audit worker stopping, final flush")
			w.FlushOnce(context.Background())
			w.PersistCounters()
			return ctx.Err()
		case <-flush.C:
			w.FlushOnce(ctx)
			flush.Reset(w.flushInterval)
		case <-persist.C:
			w.PersistCounters()
			persist.Reset(w.persistInterval)
		}
	}
}

// FlushOnce atomically drains the audit buffer and batch-inserts it. If the
// insert fails the events go back on the buffer so nothing is lost.
func (w *AuditWorker) FlushOnce(ctx context.Context) {
	events, err := w.buffer.FlushAudit()
	if err != nil {
		util.Error("Failed to flush audit buffer", util.ErrorField(err))
		return
	}
	if len(events) == 0 {
		return
	}

	if err := w.sink.InsertEvents(ctx, events); err != nil {
		util.Error("Audit insert failed, restoring buffer",
			util.Int("count", len(events)),
			util.ErrorField(err))
		if restoreErr := w.buffer.RestoreAudit(events); restoreErr != nil {
			util.Error("Failed to restore audit buffer, events lost",
				util.Int("count", len(events)),
				util.ErrorField(restoreErr))
		}
		return
	}

	w.registry.Add(metrics.AuditFlushed, int64(len(events)))
	util.Debug("Audit events flushed", util.Int("count", len(events)))
}

// PersistCounters writes the current counter values to the durable store.
func (w *AuditWorker) PersistCounters() {
	now := time.Now().UTC()
	for name, value := range w.registry.Snapshot() {
		snap := &model.CounterSnapshot{Name: name, Value: value, CapturedAt: now}
		if err := w.counters.SaveCounter(snap); err != nil {
			util.Error("Failed to persist counter",
				util.String("counter", name),
				util.ErrorField(err))
		}
	}
}
