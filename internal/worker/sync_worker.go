package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sms-bridge/internal/bucketing"
	"sms-bridge/internal/encryption"
	"sms-bridge/internal/events"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// backupAfterAttempts is how many failed pushes an entry survives before it
// is written to the durable backup table instead of being requeued forever.
const backupAfterAttempts = 10

// SyncQueue is the pop/requeue surface the worker drives.
type SyncQueue interface {
	DequeueSync() (*model.SyncQueueEntry, error)
	RequeueSync(entry *model.SyncQueueEntry) error
	SyncQueueLength() (int64, error)
}

// SettingsSource yields the active settings payload.
type SettingsSource interface {
	Current() (*model.SettingsPayload, error)
}

// BackupWriter persists entries that exhausted their push attempts.
type BackupWriter interface {
	SaveBackupUser(user *model.BackupUser) error
}

// SyncWorker pushes verified users upstream one at a time. On a push failure
// the entry is requeued and the tick ends; remaining entries wait for the
// next tick so a dead upstream is probed once per interval, not hammered.
type SyncWorker struct {
	queue     SyncQueue
	settings  SettingsSource
	client    *http.Client
	registry  *metrics.Registry
	emitter   *events.Emitter
	backup    BackupWriter
	encryptor *encryption.Manager
	buckets   *bucketing.Manager
	interval  time.Duration
}

func NewSyncWorker(
	queue SyncQueue,
	settings SettingsSource,
	client *http.Client,
	registry *metrics.Registry,
	emitter *events.Emitter,
	backup BackupWriter,
	encryptor *encryption.Manager,
	buckets *bucketing.Manager,
	interval time.Duration,
) *SyncWorker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SyncWorker{
		queue:     queue,
		settings:  settings,
		client:    client,
		registry:  registry,
		emitter:   emitter,
		backup:    backup,
		encryptor: encryptor,
		buckets:   buckets,
		interval:  interval,
	}
}

// Run ticks until ctx is cancelled. The timer restarts after each tick
// completes, so a slow upstream cannot stack overlapping ticks.
func (w *SyncWorker) Run(ctx context.Context) error {
	util.Info("Sync worker started", util.Duration("interval", w.interval))

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// One last drain so entries queued during shutdown still reach
			// the upstream while it is reachable.
			w.Tick(context.Background())
			util.Info("Sync worker stopping")
			return ctx.Err()
		case <-timer.C:
			w.Tick(ctx)
			timer.Reset(w.interval)
		}
	}
}

// Tick drains the queue until it is empty or a push fails.
func (w *SyncWorker) Tick(ctx context.Context) {
	cfg, err := w.settings.Current()
	if err != nil {
		util.Debug("Sync tick skipped, no settings", util.ErrorField(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, err := w.queue.DequeueSync()
		if err != nil {
			util.Error("Failed to dequeue sync entry", util.ErrorField(err))
			return
		}
		if entry == nil {
			return
		}

		if err := w.pushOne(ctx, cfg.UpstreamURL, entry); err != nil {
			w.registry.Inc(metrics.SyncFailed)
			entry.Attempts++

			if w.backup != nil && entry.Attempts >= backupAfterAttempts {
				w.sendToBackup(ctx, entry)
				// Upstream is still down; stop the tick either way.
				return
			}

			if requeueErr := w.queue.RequeueSync(entry); requeueErr != nil {
				util.Error("Failed to requeue sync entry, entry lost",
					util.String("mobile", util.MaskMobile(entry.Mobile)),
					util.ErrorField(requeueErr))
			}

			util.Warn("Sync push failed, entry requeued",
				util.String("mobile", util.MaskMobile(entry.Mobile)),
				util.Int("attempts", entry.Attempts),
				util.ErrorField(err))
			return
		}

		w.registry.Inc(metrics.SyncPushed)
		w.emitter.Emit(ctx, events.TypeSynced, entry.Mobile, entry.Hash, "")

		util.Debug("Sync entry pushed",
			util.String("mobile", util.MaskMobile(entry.Mobile)))
	}
}

func (w *SyncWorker) pushOne(ctx context.Context, url string, entry *model.SyncQueueEntry) error {
	if url == "" {
		return fmt.Errorf("no upstream URL configured")
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode sync entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return nil
}

// sendToBackup writes an exhausted entry to the durable backup table with
// the mobile envelope-encrypted. If even that fails the entry is requeued so
// nothing is silently dropped.
func (w *SyncWorker) sendToBackup(ctx context.Context, entry *model.SyncQueueEntry) {
	blob, err := w.encryptor.EncryptMobile(ctx, entry.Mobile)
	if err != nil {
		util.Error("Failed to encrypt mobile for backup", util.ErrorField(err))
		_ = w.queue.RequeueSync(entry)
		return
	}

	user := &model.BackupUser{
		Bucket:          w.buckets.MobileBucket(entry.Mobile),
		MobileEncrypted: blob,
		Hash:            entry.Hash,
		PinDigest:       entry.PinDigest,
		VerifiedAt:      entry.VerifiedAt,
	}

	if err := w.backup.SaveBackupUser(user); err != nil {
		util.Error("Failed to write backup user, requeueing",
			util.String("mobile", util.MaskMobile(entry.Mobile)),
			util.ErrorField(err))
		_ = w.queue.RequeueSync(entry)
		return
	}

	util.Warn("Sync entry moved to durable backup",
		util.String("mobile", util.MaskMobile(entry.Mobile)),
		util.Int("attempts", entry.Attempts))
}
