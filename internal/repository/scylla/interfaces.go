package scylla

import (
	"sms-bridge/internal/model"
)

// SettingsStore is the durable settings history surface used by the settings
// provider when Redis has no config:current.
type SettingsStore interface {
	SaveSettings(payload *model.SettingsPayload) error
	LatestSettings() (*model.SettingsPayload, error)
}

// BlacklistStore is the durable blocked-number table behind the Redis SET.
type BlacklistStore interface {
	Add(entry *model.BlacklistEntry) error
	Remove(mobile string) error
	ListAll() ([]*model.BlacklistEntry, error)
}

// BackupStore persists verified users that could not be synced upstream.
type BackupStore interface {
	SaveBackupUser(user *model.BackupUser) error
	ListBucket(bucket int) ([]*model.BackupUser, error)
}

// CounterStore persists power-down counters so totals survive restarts.
type CounterStore interface {
	SaveCounter(snapshot *model.CounterSnapshot) error
	LoadCounters() ([]*model.CounterSnapshot, error)
}
