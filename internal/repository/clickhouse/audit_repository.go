package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

const insertAuditQuery = `
    INSERT INTO sms_bridge_logs (
        event_id, mobile, check_name, status, reason, occurred_at, date_bucket
    )`

// AuditRepository writes validation decisions to the append-only
// sms_bridge_logs table in ClickHouse.
type AuditRepository struct {
	client *client.ClickHouseClient
}

func NewAuditRepository(ch *client.ClickHouseClient, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{client: ch}
}

// InsertEvents writes a full flush batch in one round trip. All-or-nothing:
// on failure the caller restores the buffer and retries next cycle.
func (r *AuditRepository) InsertEvents(ctx context.Context, events []*model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.EventID,
			e.Mobile,
			e.CheckName,
			int8(e.Status),
			e.Reason,
			e.OccurredAt,
			e.OccurredAt.UTC().Format("2006-01-02"),
		})
	}

	if err := r.client.BatchInsert(ctx, insertAuditQuery, rows); err != nil {
		util.Error("Failed to insert audit batch",
			zap.Int("events", len(events)),
			zap.Error(err))
		return fmt.Errorf("failed to insert audit batch: %w", err)
	}

	util.Info("Audit batch inserted",
		zap.Int("events", len(events)))

	return nil
}

// CountSince is used by operational tooling to sanity-check flush volume.
func (r *AuditRepository) CountSince(ctx context.Context, since time.Time) (uint64, error) {
	rows, err := r.client.QueryRows(ctx,
		`SELECT count() FROM sms_bridge_logs WHERE occurred_at >= ?`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan audit count: %w", err)
		}
	}
	return count, rows.Err()
}
