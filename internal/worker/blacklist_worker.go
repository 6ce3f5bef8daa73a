package worker

import (
	"context"
	"time"

	"sms-bridge/internal/events"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// BlacklistSource is the durable blacklist table.
type BlacklistSource interface {
	Add(entry *model.BlacklistEntry) error
	ListAll() ([]*model.BlacklistEntry, error)
}

// BlacklistMirror is the Redis SET the pipeline checks against.
type BlacklistMirror interface {
	ReplaceBlacklist(mobiles []string) error
	AbuseCounters() (map[string]int64, error)
	ClearAbuseCounter(mobile string) error
}

// BlacklistWorker keeps the Redis blacklist mirror in step with the durable
// table and promotes mobiles whose abuse counter crossed the threshold.
type BlacklistWorker struct {
	source    BlacklistSource
	mirror    BlacklistMirror
	registry  *metrics.Registry
	emitter   *events.Emitter
	threshold int64
	interval  time.Duration
}

func NewBlacklistWorker(
	source BlacklistSource,
	mirror BlacklistMirror,
	registry *metrics.Registry,
	emitter *events.Emitter,
	threshold int64,
	interval time.Duration,
) *BlacklistWorker {
	if threshold <= 0 {
		threshold = 10
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &BlacklistWorker{
		source:    source,
		mirror:    mirror,
		registry:  registry,
		emitter:   emitter,
		threshold: threshold,
		interval:  interval,
	}
}

func (w *BlacklistWorker) Run(ctx context.Context) error {
	util.Info("Blacklist worker started",
		util.Duration("interval", w.interval),
		util.Int64("abuse_threshold", w.threshold))

	// Refresh immediately so the mirror is populated before traffic lands.
	w.Tick(ctx)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			util.Info("Blacklist worker stopping")
			return ctx.Err()
		case <-timer.C:
			w.Tick(ctx)
			timer.Reset(w.interval)
		}
	}
}

// Tick promotes abusers first so the refresh that follows already includes
// them in the mirror.
func (w *BlacklistWorker) Tick(ctx context.Context) {
	w.promoteAbusers(ctx)
	w.Refresh()
}

// Refresh rebuilds the Redis SET from the durable table in one shot. Expired
// entries are skipped so TTL-scoped bans age out on the next refresh.
func (w *BlacklistWorker) Refresh() {
	entries, err := w.source.ListAll()
	if err != nil {
		util.Error("Failed to load blacklist, keeping current mirror", util.ErrorField(err))
		return
	}

	now := time.Now().UTC()
	mobiles := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.ExpiresAt.IsZero() && entry.ExpiresAt.Before(now) {
			continue
		}
		mobiles = append(mobiles, entry.Mobile)
	}

	if err := w.mirror.ReplaceBlacklist(mobiles); err != nil {
		util.Error("Failed to replace blacklist mirror", util.ErrorField(err))
		return
	}

	w.registry.Inc(metrics.BlacklistRefresh)
	util.Debug("Blacklist mirror refreshed", util.Int("size", len(mobiles)))
}

func (w *BlacklistWorker) promoteAbusers(ctx context.Context) {
	counters, err := w.mirror.AbuseCounters()
	if err != nil {
		util.Error("Failed to read abuse counters", util.ErrorField(err))
		return
	}

	for mobile, count := range counters {
		if count < w.threshold {
			continue
		}

		entry := &model.BlacklistEntry{
			Mobile:  mobile,
			Reason:  "abuse threshold exceeded",
			AddedAt: time.Now().UTC(),
			AddedBy: "abuse-detector",
		}
		if err := w.source.Add(entry); err != nil {
			util.Error("Failed to blacklist abuser",
				util.String("mobile", util.MaskMobile(mobile)),
				util.ErrorField(err))
			continue
		}

		// Counter is only cleared once the durable write landed, so a
		// failed write retries on the next tick.
		if err := w.mirror.ClearAbuseCounter(mobile); err != nil {
			util.Warn("Failed to clear abuse counter", util.ErrorField(err))
		}

		w.emitter.Emit(ctx, events.TypeBlacklisted, mobile, "", entry.Reason)
		util.Warn("Mobile promoted to blacklist",
			util.String("mobile", util.MaskMobile(mobile)),
			util.Int64("count", count))
	}
}
