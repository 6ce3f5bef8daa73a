package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
)

const settingsKey = "config:current"

// SettingsCache holds the active settings payload. The key has no TTL; it is
// replaced whole on every operator update.
type SettingsCache struct {
	client *client.RedisClient
}

func NewSettingsCache(client *client.RedisClient) *SettingsCache {
	return &SettingsCache{client: client}
}

func (c *SettingsCache) GetSettings() (*model.SettingsPayload, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, settingsKey)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", settingsKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	payload := &model.SettingsPayload{}
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return nil, fmt.Errorf("corrupt settings payload: %w", err)
	}
	return payload, nil
}

func (c *SettingsCache) SetSettings(payload *model.SettingsPayload) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode settings payload: %w", err)
	}

	if err := c.client.Set(ctx, settingsKey, raw, 0); err != nil {
		return fmt.Errorf("failed to set settings: %w", err)
	}
	return nil
}
