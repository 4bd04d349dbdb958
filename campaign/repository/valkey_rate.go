package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
)

// dailyWindow is the rolling rate-limit window per campaign.
const dailyWindow = 24 * time.Hour

// ValkeyRateLimiter implements campaign.RateLimiter with one counter key per
// campaign. The TTL is anchored at the first send of the window, not
// refreshed on later sends, so the window genuinely rolls over.
type ValkeyRateLimiter struct {
	client *valkey.Client
	prefix string
}

func NewValkeyRateLimiter(client *valkey.Client) *ValkeyRateLimiter {
	return &ValkeyRateLimiter{
		client: client,
		prefix: client.Key("campaign", "rate_limit") + ":",
	}
}

func (r *ValkeyRateLimiter) key(campaignID string) string {
	return r.prefix + campaignID
}

func (r *ValkeyRateLimiter) SentToday(ctx context.Context, campaignID string) (int, error) {
	cmd := r.client.Inner().B().Get().Key(r.key(campaignID)).Build()
	n, err := r.client.Inner().Do(ctx, cmd).AsInt64()
	if err != nil {
		if valkey.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily counter: %w", err)
	}
	return int(n), nil
}

func (r *ValkeyRateLimiter) RecordSend(ctx context.Context, campaignID string) (int, error) {
	inner := r.client.Inner()

	incr := inner.B().Incr().Key(r.key(campaignID)).Build()
	n, err := inner.Do(ctx, incr).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment daily counter: %w", err)
	}

	if n == 1 {
		expire := inner.B().Expire().Key(r.key(campaignID)).
			Seconds(int64(dailyWindow.Seconds())).Build()
		if err := inner.Do(ctx, expire).Error(); err != nil {
			return int(n), fmt.Errorf("failed to set counter window: %w", err)
		}
	}
	return int(n), nil
}
