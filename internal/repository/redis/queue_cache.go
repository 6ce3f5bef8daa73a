package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

const (
	syncQueueKey   = "sync_queue"
	auditBufferKey = "audit_buffer"
)

// QueueCache owns the sync queue list and the audit buffer list. Producers
// LPUSH and the sync worker RPOPs, so the queue is FIFO.
type QueueCache struct {
	client *client.RedisClient
}

func NewQueueCache(client *client.RedisClient) *QueueCache {
	return &QueueCache{client: client}
}

// ---------- sync queue ----------

func (c *QueueCache) EnqueueSync(entry *model.SyncQueueEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode sync entry: %w", err)
	}

	if err := c.client.LPush(ctx, syncQueueKey, raw); err != nil {
		util.Error("Failed to enqueue sync entry",
			zap.String("mobile", util.MaskMobile(entry.Mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue sync entry: %w", err)
	}

	util.Debug("Sync entry enqueued",
		zap.String("mobile", util.MaskMobile(entry.Mobile)))

	return nil
}

// DequeueSync pops the oldest entry. Returns (nil, nil) on an empty queue.
func (c *QueueCache) DequeueSync() (*model.SyncQueueEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.RPop(ctx, syncQueueKey)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", syncQueueKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue sync entry: %w", err)
	}

	entry := &model.SyncQueueEntry{}
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		return nil, fmt.Errorf("corrupt sync entry: %w", err)
	}
	return entry, nil
}

// RequeueSync puts a failed entry back at the tail side it was popped from,
// preserving its place at the front of the queue.
func (c *QueueCache) RequeueSync(entry *model.SyncQueueEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode sync entry: %w", err)
	}

	if err := c.client.RPush(ctx, syncQueueKey, raw); err != nil {
		return fmt.Errorf("failed to requeue sync entry: %w", err)
	}
	return nil
}

// RestoreSync pushes entries back with LPUSH in the given order; callers
// hand entries oldest-first (drain order), and successive LPUSHes rebuild
// the list so RPOP dequeues the oldest entry first again.
func (c *QueueCache) RestoreSync(entries []*model.SyncQueueEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode sync entry: %w", err)
		}
		if err := c.client.LPush(ctx, syncQueueKey, raw); err != nil {
			return fmt.Errorf("failed to restore sync entry: %w", err)
		}
	}
	return nil
}

func (c *QueueCache) SyncQueueLength() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.client.LLen(ctx, syncQueueKey)
}

// DrainSync atomically takes every queued entry, oldest first.
func (c *QueueCache) DrainSync() ([]*model.SyncQueueEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raws, err := c.client.DrainList(ctx, syncQueueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to drain sync queue: %w", err)
	}

	// LRANGE returns head-first; the head is the newest LPUSHed element,
	// so walk backwards to get oldest-first order.
	entries := make([]*model.SyncQueueEntry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		entry := &model.SyncQueueEntry{}
		if err := json.Unmarshal([]byte(raws[i]), entry); err != nil {
			util.Warn("Skipping corrupt sync entry during drain", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ---------- audit buffer ----------

// AppendAudit adds an event to the buffer. Fire-and-forget: callers log and
// continue on failure, an audit write must never block verification.
func (c *QueueCache) AppendAudit(event *model.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	if err := c.client.LPush(ctx, auditBufferKey, raw); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// FlushAudit atomically takes the whole buffer.
func (c *QueueCache) FlushAudit() ([]*model.AuditEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raws, err := c.client.DrainList(ctx, auditBufferKey)
	if err != nil {
		return nil, fmt.Errorf("failed to flush audit buffer: %w", err)
	}

	events := make([]*model.AuditEvent, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		event := &model.AuditEvent{}
		if err := json.Unmarshal([]byte(raws[i]), event); err != nil {
			util.Warn("Skipping corrupt audit event during flush", zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// RestoreAudit puts events back after a failed durable write so they are
// retried on the next flush.
func (c *QueueCache) RestoreAudit(events []*model.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(events) - 1; i >= 0; i-- {
		raw, err := json.Marshal(events[i])
		if err != nil {
			continue
		}
		if err := c.client.LPush(ctx, auditBufferKey, raw); err != nil {
			return fmt.Errorf("failed to restore audit events: %w", err)
		}
	}
	return nil
}

func (c *QueueCache) AuditBufferLength() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.client.LLen(ctx, auditBufferKey)
}
