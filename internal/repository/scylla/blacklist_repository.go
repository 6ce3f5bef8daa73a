package scylla

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

type BlacklistRepository struct {
	client *ScyllaClient
}

func NewBlacklistRepository(client *ScyllaClient, logger *zap.Logger) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

func (r *BlacklistRepository) Add(entry *model.BlacklistEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}

	query := r.client.Prepared.InsertBlacklist.Bind(
		entry.Mobile, entry.Reason, entry.AddedAt, entry.AddedBy, entry.ExpiresAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to add blacklist entry",
			zap.String("mobile", util.MaskMobile(entry.Mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}

	util.Warn("Mobile blacklisted",
		zap.String("mobile", util.MaskMobile(entry.Mobile)),
		zap.String("reason", entry.Reason),
		zap.String("added_by", entry.AddedBy))

	return nil
}

func (r *BlacklistRepository) Remove(mobile string) error {
	query := r.client.Prepared.DeleteBlacklist.Bind(mobile)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to remove blacklist entry",
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}

	util.Info("Mobile removed from blacklist",
		zap.String("mobile", util.MaskMobile(mobile)))

	return nil
}

// ListAll streams the full table; it is small (operator-curated plus abuse
// promotions) so a full read every refresh cycle is acceptable.
func (r *BlacklistRepository) ListAll() ([]*model.BlacklistEntry, error) {
	var entries []*model.BlacklistEntry

	iter := r.client.Prepared.ListBlacklist.Iter()

	var e model.BlacklistEntry
	for iter.Scan(&e.Mobile, &e.Reason, &e.AddedAt, &e.AddedBy, &e.ExpiresAt) {
		entry := e
		entries = append(entries, &entry)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list blacklist entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list blacklist entries: %w", err)
	}

	return entries, nil
}
