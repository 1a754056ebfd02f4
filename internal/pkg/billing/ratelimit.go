package billing

import (
	"context"
	"time"
)

// RateLimiter rejects a claim when the claimant's last successful claim is
// inside the cooldown. It reads claim rows and keeps no state of its own.
type RateLimiter struct {
	repo Repository
	now  func() time.Time
}

func NewRateLimiter(repo Repository) *RateLimiter {
	return &RateLimiter{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (l *RateLimiter) Check(ctx context.Context, claimant Claimant, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	claimant.PayerEmail = NormalizeEmail(claimant.PayerEmail)
	latest, err := l.repo.LatestClaimAt(ctx, claimant)
	if err != nil {
		return storageErr("load latest claim", err)
	}
	if latest == nil {
		return nil
	}
	if elapsed := l.now().Sub(*latest); elapsed < cooldown {
		return &RateLimitError{RetryAfter: cooldown - elapsed}
	}
	return nil
}
