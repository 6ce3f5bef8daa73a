package scylla

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// settingsPartition keeps every settings version in one partition so the
// latest row is a single LIMIT 1 read (clustering order: version DESC).
const settingsPartition = "current"

type SettingsRepository struct {
	client *ScyllaClient
}

func NewSettingsRepository(client *ScyllaClient, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{client: client}
}

func (r *SettingsRepository) SaveSettings(payload *model.SettingsPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode settings payload: %w", err)
	}

	query := r.client.Prepared.InsertSettings.Bind(
		settingsPartition, payload.Version, string(raw), payload.UpdatedAt, payload.UpdatedBy)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save settings version",
			zap.Int("version", payload.Version),
			zap.Error(err))
		return fmt.Errorf("failed to save settings: %w", err)
	}

	util.Info("Settings version persisted",
		zap.Int("version", payload.Version),
		zap.String("updated_by", payload.UpdatedBy))

	return nil
}

func (r *SettingsRepository) LatestSettings() (*model.SettingsPayload, error) {
	var (
		version   int
		raw       string
		updatedAt time.Time
		updatedBy string
	)

	query := r.client.Prepared.GetLatestSetting.Bind(settingsPartition)
	if err := query.Scan(&version, &raw, &updatedAt, &updatedBy); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("no settings history found")
		}
		return nil, fmt.Errorf("failed to load latest settings: %w", err)
	}

	payload := &model.SettingsPayload{}
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return nil, fmt.Errorf("failed to decode settings payload: %w", err)
	}

	payload.Version = version
	payload.UpdatedAt = updatedAt
	payload.UpdatedBy = updatedBy

	return payload, nil
}
