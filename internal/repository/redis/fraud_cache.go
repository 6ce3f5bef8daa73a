package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

const (
	smsCountPrefix     = "sms_count:"
	ratePrefix         = "rate:"
	blacklistKey       = "blacklist"
	validatedKey       = "validated_mobiles"
	abuseCounterPrefix = "abuse_counter:"

	// abuseWindow bounds how long a rejected-SMS streak is remembered.
	abuseWindow = 24 * time.Hour
)

// FraudCache backs the validation pipeline: per-mobile SMS counters, the
// blacklist SET mirror, the validated-mobiles SET and abuse counters.
type FraudCache struct {
	client *client.RedisClient
}

func NewFraudCache(client *client.RedisClient) *FraudCache {
	return &FraudCache{client: client}
}

// IncrementSMSCount bumps the rolling per-mobile counter and returns the new
// value. The window TTL is refreshed on every hit.
func (c *FraudCache) IncrementSMSCount(mobile string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, smsCountPrefix+mobile, window)
	if err != nil {
		util.Error("Failed to increment SMS count",
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment SMS count: %w", err)
	}
	return count, nil
}

func (c *FraudCache) GetSMSCount(mobile string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := smsCountPrefix + mobile

	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get SMS count: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SMS count format: %w", err)
	}
	return count, nil
}

// IncrementRate bumps the registration rate counter used to throttle the
// register endpoint.
func (c *FraudCache) IncrementRate(mobile string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, ratePrefix+mobile, window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	return count, nil
}

// ---------- blacklist mirror ----------

func (c *FraudCache) IsBlacklisted(mobile string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	member, err := c.client.SIsMember(ctx, blacklistKey, mobile)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return member, nil
}

// ReplaceBlacklist swaps the whole SET in one transaction so readers never
// observe a half-loaded blacklist.
func (c *FraudCache) ReplaceBlacklist(mobiles []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, blacklistKey)
	if len(mobiles) > 0 {
		members := make([]interface{}, len(mobiles))
		for i, m := range mobiles {
			members[i] = m
		}
		pipe.SAdd(ctx, blacklistKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to replace blacklist", zap.Error(err))
		return fmt.Errorf("failed to replace blacklist: %w", err)
	}

	util.Info("Blacklist refreshed", zap.Int("entries", len(mobiles)))
	return nil
}

func (c *FraudCache) BlacklistSize() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.client.SCard(ctx, blacklistKey)
}

// ---------- validated set ----------

// MarkValidated records a completed verification so the duplicate check can
// refuse the same mobile+device pair later. Membership is permanent; only a
// cache wipe clears it.
func (c *FraudCache) MarkValidated(mobile, deviceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.SAdd(ctx, validatedKey, mobile+":"+deviceID); err != nil {
		return fmt.Errorf("failed to mark validated: %w", err)
	}
	return nil
}

// IsValidated tests the mobile+device composite against the validated set.
func (c *FraudCache) IsValidated(mobile, deviceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	member, err := c.client.SIsMember(ctx, validatedKey, mobile+":"+deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to check validated set: %w", err)
	}
	return member, nil
}

// ---------- abuse counters ----------

// IncrementAbuse records a rejected SMS from a mobile. The counter rides a
// rolling 24h window; the blacklist worker promotes and clears it sooner if
// the threshold is crossed.
func (c *FraudCache) IncrementAbuse(mobile string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, abuseCounterPrefix+mobile, abuseWindow)
	if err != nil {
		return 0, fmt.Errorf("failed to increment abuse counter: %w", err)
	}
	return count, nil
}

// AbuseCounters scans all counters and returns mobile -> count.
func (c *FraudCache) AbuseCounters() (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, err := c.client.Scan(ctx, abuseCounterPrefix+"*", 500)
	if err != nil {
		return nil, fmt.Errorf("failed to scan abuse counters: %w", err)
	}

	counters := make(map[string]int64, len(keys))
	for _, key := range keys {
		raw, err := c.client.Get(ctx, key)
		if err != nil {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		counters[strings.TrimPrefix(key, abuseCounterPrefix)] = count
	}
	return counters, nil
}

func (c *FraudCache) ClearAbuseCounter(mobile string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, abuseCounterPrefix+mobile); err != nil {
		return fmt.Errorf("failed to clear abuse counter: %w", err)
	}
	return nil
}
