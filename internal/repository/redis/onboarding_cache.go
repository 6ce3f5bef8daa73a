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
	attemptPrefix  = "active_onboarding:"
	mobileIdxPrefix = "onboard_mobile:"
	verifiedPrefix = "verified:"
)

// OnboardingCache owns the verification state machine keys. An attempt is
// stored under its token hash plus a reverse index from the mobile, so at
// most one live token can exist per number.
type OnboardingCache struct {
	client *client.RedisClient
}

func NewOnboardingCache(client *client.RedisClient) *OnboardingCache {
	return &OnboardingCache{client: client}
}

func (c *OnboardingCache) SaveAttempt(attempt *model.OnboardingAttempt, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode onboarding attempt: %w", err)
	}

	// Both keys in one transaction so the reverse index can never point at
	// a missing attempt.
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, attemptPrefix+attempt.Hash, raw, ttl)
	pipe.Set(ctx, mobileIdxPrefix+attempt.Mobile, attempt.Hash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to save onboarding attempt",
			zap.String("mobile", util.MaskMobile(attempt.Mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to save onboarding attempt: %w", err)
	}

	util.Debug("Onboarding attempt cached",
		zap.String("mobile", util.MaskMobile(attempt.Mobile)),
		zap.String("hash", attempt.Hash),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *OnboardingCache) GetAttempt(hash string) (*model.OnboardingAttempt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := attemptPrefix + hash

	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return nil, fmt.Errorf("no pending attempt for hash: %s", hash)
		}
		util.Error("Failed to get onboarding attempt",
			zap.String("hash", hash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get onboarding attempt: %w", err)
	}

	attempt := &model.OnboardingAttempt{}
	if err := json.Unmarshal([]byte(raw), attempt); err != nil {
		return nil, fmt.Errorf("corrupt onboarding attempt for hash %s: %w", hash, err)
	}

	return attempt, nil
}

// ActiveHashForMobile returns the live token hash for a mobile, or "" when
// no attempt is pending.
func (c *OnboardingCache) ActiveHashForMobile(mobile string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := mobileIdxPrefix + mobile

	hash, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up active hash: %w", err)
	}
	return hash, nil
}

// DeleteAttempt removes a pending attempt and its reverse index, used when
// a re-registration reissues the token.
func (c *OnboardingCache) DeleteAttempt(attempt *model.OnboardingAttempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, attemptPrefix+attempt.Hash, mobileIdxPrefix+attempt.Mobile); err != nil {
		return fmt.Errorf("failed to delete onboarding attempt: %w", err)
	}
	return nil
}

// AttemptTTL reports the remaining lifetime of a pending attempt.
func (c *OnboardingCache) AttemptTTL(hash string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.client.TTL(ctx, attemptPrefix+hash)
}

// MarkVerified atomically consumes the pending attempt and writes the
// verified record. The three commands run in one MULTI/EXEC so a crash can
// never leave both the attempt and the verified entry live.
func (c *OnboardingCache) MarkVerified(attempt *model.OnboardingAttempt, entry *model.VerifiedMobile, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode verified entry: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, attemptPrefix+attempt.Hash)
	pipe.Del(ctx, mobileIdxPrefix+attempt.Mobile)
	pipe.Set(ctx, verifiedPrefix+entry.Mobile, raw, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to mark mobile verified",
			zap.String("mobile", util.MaskMobile(entry.Mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to mark mobile verified: %w", err)
	}

	util.Info("Mobile verified",
		zap.String("mobile", util.MaskMobile(entry.Mobile)),
		zap.String("hash", entry.Hash))

	return nil
}

func (c *OnboardingCache) GetVerified(mobile string) (*model.VerifiedMobile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := verifiedPrefix + mobile

	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return nil, fmt.Errorf("no verified entry for mobile: %s", util.MaskMobile(mobile))
		}
		return nil, fmt.Errorf("failed to get verified entry: %w", err)
	}

	entry := &model.VerifiedMobile{}
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		return nil, fmt.Errorf("corrupt verified entry for mobile %s: %w", util.MaskMobile(mobile), err)
	}

	return entry, nil
}

// UpdateVerified rewrites the verified record preserving its remaining TTL,
// used when PIN collection attaches the digest.
func (c *OnboardingCache) UpdateVerified(entry *model.VerifiedMobile) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := verifiedPrefix + entry.Mobile

	ttl, err := c.client.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("verified entry expired for mobile: %s", util.MaskMobile(entry.Mobile))
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode verified entry: %w", err)
	}

	if err := c.client.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("failed to update verified entry: %w", err)
	}
	return nil
}

// DeleteVerified removes the verified record once the entry is queued for
// upstream sync.
func (c *OnboardingCache) DeleteVerified(mobile string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, verifiedPrefix+mobile); err != nil {
		return fmt.Errorf("failed to delete verified entry: %w", err)
	}
	return nil
}
