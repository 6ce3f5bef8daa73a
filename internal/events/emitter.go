package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

// Event types emitted over Kafka.
const (
	TypeRegistered  = "onboarding.registered"
	TypeVerified    = "onboarding.verified"
	TypeSynced      = "onboarding.synced"
	TypeBlacklisted = "fraud.blacklisted"
	TypeRecovered   = "sync.recovered"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	Mobile     string    `json:"mobile"`
	Hash       string    `json:"hash,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Emitter publishes lifecycle events. A nil Emitter is valid and drops
// everything, so callers never need to branch on whether Kafka is wired.
type Emitter struct {
	producer *client.KafkaProducer
}

func NewEmitter(producer *client.KafkaProducer) *Emitter {
	if producer == nil {
		return nil
	}
	return &Emitter{producer: producer}
}

// Emit publishes one event, best effort.
func (e *Emitter) Emit(ctx context.Context, eventType, mobile, hash, detail string) {
	if e == nil || e.producer == nil {
		return
	}

	event := Event{
		Type:       eventType,
		Mobile:     mobile,
		Hash:       hash,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := e.producer.ProduceMessage(ctx, []byte(mobile), value, map[string]string{
		"event_type": eventType,
	}); err != nil {
		util.Warn("Failed to emit lifecycle event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
