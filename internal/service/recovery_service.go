package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sms-bridge/internal/events"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// SyncQueue is the drain/restore surface recovery runs against.
type SyncQueue interface {
	DrainSync() ([]*model.SyncQueueEntry, error)
	RestoreSync(entries []*model.SyncQueueEntry) error
}

// recoveryPayload is the signed batch POSTed to the recovery endpoint. The
// signature covers the JSON encoding of the payload with an empty signature
// field.
type recoveryPayload struct {
	Users       []*model.SyncQueueEntry `json:"users"`
	BatchSize   int                     `json:"batch_size"`
	TriggeredAt time.Time               `json:"triggered_at"`
	TriggeredBy string                  `json:"triggered_by"`
	Signature   string                  `json:"signature,omitempty"`
}

// RecoveryService drains the entire sync queue into one signed batch POST,
// for operators to run after an upstream outage. On any failure the drained
// entries go back in their original order.
type RecoveryService struct {
	queue    SyncQueue
	settings SettingsSource
	client   *http.Client
	registry *metrics.Registry
	emitter  *events.Emitter
	auditor  AuditRecorder
}

func NewRecoveryService(
	queue SyncQueue,
	settings SettingsSource,
	client *http.Client,
	registry *metrics.Registry,
	emitter *events.Emitter,
	auditor AuditRecorder,
) *RecoveryService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RecoveryService{
		queue:    queue,
		settings: settings,
		client:   client,
		registry: registry,
		emitter:  emitter,
		auditor:  auditor,
	}
}

// TriggerRecovery drains and pushes the whole queue. An empty queue is a
// distinct, successful result and makes no HTTP call.
func (s *RecoveryService) TriggerRecovery(ctx context.Context, triggeredBy string) (*model.RecoveryResult, error) {
	cfg, err := s.settings.Current()
	if err != nil {
		return nil, err
	}

	triggeredAt := time.Now().UTC()

	entries, err := s.queue.DrainSync()
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		util.Info("Recovery triggered on empty queue",
			util.String("triggered_by", triggeredBy))
		return &model.RecoveryResult{Empty: true, TriggeredAt: triggeredAt}, nil
	}

	if err := s.pushBatch(ctx, cfg.RecoveryURL, cfg.SecretKey, entries, triggeredAt, triggeredBy); err != nil {
		// Entries are oldest-first; restoring in that order rebuilds the
		// exact queue the drain removed.
		if restoreErr := s.queue.RestoreSync(entries); restoreErr != nil {
			util.Error("Failed to restore sync queue after push failure",
				util.Int("entries", len(entries)),
				util.ErrorField(restoreErr))
			return nil, fmt.Errorf("recovery push failed (%v) and restore failed: %w", err, restoreErr)
		}

		util.Warn("Recovery push failed, queue restored",
			util.Int("entries", len(entries)),
			util.ErrorField(err))

		return &model.RecoveryResult{
			Drained:     len(entries),
			Restored:    len(entries),
			TriggeredAt: triggeredAt,
		}, err
	}

	s.registry.Inc(metrics.RecoveryRuns)
	s.registry.Add(metrics.SyncPushed, int64(len(entries)))
	if s.auditor != nil {
		s.auditor.Record("", "recovery_triggered", model.StatusPass, fmt.Sprintf("pushed %d users", len(entries)))
	}
	s.emitter.Emit(ctx, events.TypeRecovered, "", "", fmt.Sprintf("pushed %d users", len(entries)))

	util.Info("Recovery batch pushed",
		util.Int("entries", len(entries)),
		util.String("triggered_by", triggeredBy))

	return &model.RecoveryResult{
		Drained:     len(entries),
		Pushed:      len(entries),
		TriggeredAt: triggeredAt,
	}, nil
}

func (s *RecoveryService) pushBatch(ctx context.Context, url, secret string, entries []*model.SyncQueueEntry, triggeredAt time.Time, triggeredBy string) error {
	if url == "" {
		return fmt.Errorf("no recovery URL configured")
	}

	payload := recoveryPayload{
		Users:       entries,
		BatchSize:   len(entries),
		TriggeredAt: triggeredAt,
		TriggeredBy: triggeredBy,
	}

	unsigned, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode recovery payload: %w", err)
	}
	payload.Signature = hashing.SignPayload(unsigned, secret)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode signed payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build recovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("recovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("recovery endpoint returned %d", resp.StatusCode)
	}
	return nil
}
