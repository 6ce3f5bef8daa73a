package model

import "time"

// -------------------- ONBOARDING --------------------

// OnboardingAttempt is the pending registration state keyed by its SMS token.
// It lives in Redis under active_onboarding:{hash} until the confirming SMS
// arrives or the attempt TTL expires.
type OnboardingAttempt struct {
	Mobile    string    `json:"mobile"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	Email     string    `json:"email,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
}

// VerifiedMobile is the confirmed-but-not-yet-synced record kept under
// verified:{mobile} after the inbound SMS matched a pending attempt.
type VerifiedMobile struct {
	Mobile     string    `json:"mobile"`
	Hash       string    `json:"hash"`
	VerifiedAt time.Time `json:"verified_at"`
	PinDigest  string    `json:"pin_digest,omitempty"`
	Email      string    `json:"email,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
}

// SyncQueueEntry is one element of the sync_queue Redis list, waiting to be
// pushed to the upstream user store.
type SyncQueueEntry struct {
	Mobile     string    `json:"mobile"`
	Hash       string    `json:"hash"`
	PinDigest  string    `json:"pin_digest,omitempty"`
	Email      string    `json:"email,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// -------------------- FRAUD / AUDIT --------------------

// CheckStatus is the tri-state outcome code carried in audit events.
type CheckStatus int

const (
	StatusPass     CheckStatus = 1
	StatusFail     CheckStatus = 2
	StatusDisabled CheckStatus = 3
)

// AuditEvent is one validation decision, buffered in Redis and flushed in
// batches to ClickHouse by the audit worker.
type AuditEvent struct {
	EventID    string      `json:"event_id"`
	Mobile     string      `json:"mobile"`
	CheckName  string      `json:"check_name"`
	Status     CheckStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// BlacklistEntry is a durable blocked-number row in Scylla. The Redis
// blacklist SET is a full copy of these, rebuilt by the refresh worker.
type BlacklistEntry struct {
	Mobile    string    `json:"mobile" db:"mobile"`
	Reason    string    `json:"reason" db:"reason"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
	AddedBy   string    `json:"added_by" db:"added_by"`
	ExpiresAt time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// BackupUser is a durable fallback copy of a verified user, written when the
// upstream sync repeatedly fails. The mobile column is envelope-encrypted.
type BackupUser struct {
	Bucket          int       `db:"bucket"`
	MobileEncrypted []byte    `db:"mobile_encrypted"`
	Hash            string    `db:"hash"`
	PinDigest       string    `db:"pin_digest"`
	VerifiedAt      time.Time `db:"verified_at"`
	StoredAt        time.Time `db:"stored_at"`
}

// -------------------- SETTINGS --------------------

// CheckSettings is the per-check switchboard inside the active settings
// payload. A disabled check records StatusDisabled and always passes.
type CheckSettings struct {
	HeaderHashEnabled    bool `json:"header_hash_enabled"`
	ForeignNumberEnabled bool `json:"foreign_number_enabled"`
	CountEnabled         bool `json:"count_enabled"`
	BlacklistEnabled     bool `json:"blacklist_enabled"`
	DuplicateEnabled     bool `json:"duplicate_enabled"`
}

// SettingsPayload is the operator-managed runtime configuration stored under
// config:current in Redis, with a durable history copy in Scylla.
type SettingsPayload struct {
	Version          int           `json:"version"`
	SecretKey        string        `json:"secret_key"`
	APIKey           string        `json:"api_key"`
	UpstreamURL      string        `json:"upstream_url"`
	RecoveryURL      string        `json:"recovery_url"`
	AllowedPrefix    string        `json:"allowed_prefix"`
	AllowedCountries []string      `json:"allowed_countries"`
	HashLength       int           `json:"hash_length"`
	MaxSMSCount      int           `json:"max_sms_count"`
	CountWindow      time.Duration `json:"count_window"`
	AttemptTTL       time.Duration `json:"attempt_ttl"`
	VerifiedTTL      time.Duration `json:"verified_ttl"`
	Checks           CheckSettings `json:"checks"`
	UpdatedAt        time.Time     `json:"updated_at"`
	UpdatedBy        string        `json:"updated_by"`
}

// -------------------- COUNTERS --------------------

// CounterSnapshot is one persisted power-down counter value.
type CounterSnapshot struct {
	Name       string    `db:"name"`
	Value      int64     `db:"value"`
	CapturedAt time.Time `db:"captured_at"`
}

// -------------------- API DTOs --------------------

// RegisterRequest starts an onboarding attempt.
type RegisterRequest struct {
	Mobile   string `json:"mobile" validate:"required,e164"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	DeviceID string `json:"device_id,omitempty" validate:"omitempty,max=128"`
	AppID    string `json:"app_id,omitempty" validate:"omitempty,max=64"`
}

// RegisterResponse carries the token the device must send back over SMS.
type RegisterResponse struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InboundSMSRequest is the gateway callback body for a received SMS.
type InboundSMSRequest struct {
	Sender string `json:"sender" validate:"required"`
	Body   string `json:"body" validate:"required,max=512"`
	Header string `json:"header,omitempty"`
}

// PinSetupRequest attaches a PIN to a verified mobile.
type PinSetupRequest struct {
	Mobile     string `json:"mobile" validate:"required,e164"`
	Pin        string `json:"pin" validate:"required,len=4,numeric"`
	ConfirmPin string `json:"confirm_pin" validate:"required,len=4,numeric"`
	Hash       string `json:"hash" validate:"required,min=4,max=32"`
}

// RecoveryRequest triggers a manual drain of the sync queue.
type RecoveryRequest struct {
	TriggeredBy string `json:"triggered_by" validate:"required,max=64"`
}

// RecoveryResult reports what a recovery run did.
type RecoveryResult struct {
	Drained     int       `json:"drained"`
	Pushed      int       `json:"pushed"`
	Restored    int       `json:"restored"`
	Empty       bool      `json:"empty"`
	TriggeredAt time.Time `json:"triggered_at"`
}
