// Package maintenance trims credential store state that no longer matters:
// sessions past their retention window and lockouts that have run out.
package maintenance

import (
	"context"
	"time"
)

type Store interface {
	DeleteStaleSessions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type Result struct {
	DeletedSessions int64 `json:"deleted_sessions"`
	ClearedLockouts int64 `json:"cleared_lockouts"`
}

type Cleaner struct {
	store            Store
	sessionRetention time.Duration
	batchSize        int
	now              func() time.Time
}

func NewCleaner(store Store, sessionRetention time.Duration, batchSize int) *Cleaner {
	if sessionRetention < 0 {
		sessionRetention = 0
	}
	return &Cleaner{
		store:            store,
		sessionRetention: sessionRetention,
		batchSize:        batchSize,
		now:              time.Now,
	}
}

// Run deletes one batch of each kind. Sessions are kept for the retention
// window after they expired or were revoked.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	now := c.now().UTC()

	var result Result
	deleted, err := c.store.DeleteStaleSessions(ctx, now.Add(-c.sessionRetention), c.batchSize)
	if err != nil {
		return result, err
	}
	result.DeletedSessions = deleted

	cleared, err := c.store.ClearExpiredLockouts(ctx, now, c.batchSize)
	if err != nil {
		return result, err
	}
	result.ClearedLockouts = cleared

	return result, nil
}
