package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/model"
)

type memSyncQueue struct {
	entries    []*model.SyncQueueEntry
	drainErr   error
	restoreErr error
}

func (q *memSyncQueue) DrainSync() ([]*model.SyncQueueEntry, error) {
	if q.drainErr != nil {
		return nil, q.drainErr
	}
	out := q.entries
	q.entries = nil
	return out, nil
}

func (q *memSyncQueue) RestoreSync(entries []*model.SyncQueueEntry) error {
	if q.restoreErr != nil {
		return q.restoreErr
	}
	q.entries = append(q.entries, entries...)
	return nil
}

func queueWith(mobiles ...string) *memSyncQueue {
	q := &memSyncQueue{}
	for _, m := range mobiles {
		q.entries = append(q.entries, &model.SyncQueueEntry{
			Mobile:     m,
			Hash:       "ABCDEF23",
			VerifiedAt: time.Now().UTC(),
		})
	}
	return q
}

func recoverySettings(url string) *staticSettings {
	s := testSettings()
	s.payload.RecoveryURL = url
	return s
}

func TestTriggerRecoveryEmptyQueueNoHTTPCall(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	svc := NewRecoveryService(&memSyncQueue{}, recoverySettings(server.URL), server.Client(), metrics.NewRegistry(), nil, nil)

	result, err := svc.TriggerRecovery(context.Background(), "ops")
	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Zero(t, result.Drained)
	assert.Zero(t, calls.Load(), "empty queue must not hit the recovery endpoint")
}

func TestTriggerRecoveryPushesSignedBatch(t *testing.T) {
	var received recoveryPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	queue := queueWith("9876543210", "9876543211", "9876543212")
	registry := metrics.NewRegistry()
	svc := NewRecoveryService(queue, recoverySettings(server.URL), server.Client(), registry, nil, nil)

	result, err := svc.TriggerRecovery(context.Background(), "ops")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Drained)
	assert.Equal(t, 3, result.Pushed)
	assert.False(t, result.Empty)

	assert.Equal(t, 3, received.BatchSize)
	assert.Equal(t, "ops", received.TriggeredBy)
	assert.Len(t, received.Users, 3)
	assert.NotEmpty(t, received.Signature)

	// Signature covers the payload with the signature field blanked.
	sig := received.Signature
	received.Signature = ""
	unsigned, err := json.Marshal(received)
	require.NoError(t, err)
	assert.True(t, hashing.VerifySignature(unsigned, "test-secret", sig))

	assert.Equal(t, int64(1), registry.Get(metrics.RecoveryRuns))
	assert.Equal(t, int64(3), registry.Get(metrics.SyncPushed))
	assert.Empty(t, queue.entries, "queue stays drained on success")
}

func TestTriggerRecoveryRestoresOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	queue := queueWith("9876543210", "9876543211")
	svc := NewRecoveryService(queue, recoverySettings(server.URL), server.Client(), metrics.NewRegistry(), nil, nil)

	result, err := svc.TriggerRecovery(context.Background(), "ops")
	require.Error(t, err)

	assert.Equal(t, 2, result.Drained)
	assert.Equal(t, 2, result.Restored)
	assert.Zero(t, result.Pushed)

	// Queue restored in the original order.
	require.Len(t, queue.entries, 2)
	assert.Equal(t, "9876543210", queue.entries[0].Mobile)
	assert.Equal(t, "9876543211", queue.entries[1].Mobile)
}

func TestTriggerRecoveryNoURLConfigured(t *testing.T) {
	queue := queueWith("9876543210")
	svc := NewRecoveryService(queue, testSettings(), &http.Client{}, metrics.NewRegistry(), nil, nil)

	_, err := svc.TriggerRecovery(context.Background(), "ops")
	require.Error(t, err)

	// Still restored even though the failure happened before any request.
	assert.Len(t, queue.entries, 1)
}

func TestTriggerRecoveryDrainError(t *testing.T) {
	queue := &memSyncQueue{drainErr: fmt.Errorf("redis down")}
	svc := NewRecoveryService(queue, recoverySettings("http://unused"), &http.Client{}, metrics.NewRegistry(), nil, nil)

	_, err := svc.TriggerRecovery(context.Background(), "ops")
	assert.Error(t, err)
}
