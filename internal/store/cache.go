package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

const fingerprintSetKey = "jobdigest:fingerprints"

// CachedRepository is a read-through decorator that keeps the known
// fingerprint set in Redis to spare the full-table scan on every run.
// Postgres stays authoritative: any cache failure falls through to the inner
// repository and is only logged.
type CachedRepository struct {
	inner  Repository
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedRepository(inner Repository, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedRepository {
	return &CachedRepository{inner: inner, client: client, ttl: ttl, logger: log}
}

func (c *CachedRepository) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	members, err := c.client.SMembers(ctx, fingerprintSetKey).Result()
	if err == nil && len(members) > 0 {
		fps := make(map[string]struct{}, len(members))
		for _, m := range members {
			fps[m] = struct{}{}
		}
		return fps, nil
	}
	if err != nil {
		c.logger.Warn("fingerprint cache read failed, falling back to database", map[string]interface{}{
			"error": err.Error(),
		})
	}

	fps, err := c.inner.ExistingFingerprints(ctx)
	if err != nil {
		return nil, err
	}
	c.populate(ctx, fps)
	return fps, nil
}

func (c *CachedRepository) populate(ctx context.Context, fps map[string]struct{}) {
	if len(fps) == 0 {
		return
	}
	members := make([]interface{}, 0, len(fps))
	for fp := range fps {
		members = append(members, fp)
	}
	if err := c.client.SAdd(ctx, fingerprintSetKey, members...).Err(); err != nil {
		c.logger.Warn("fingerprint cache populate failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	c.client.Expire(ctx, fingerprintSetKey, c.ttl)
}

func (c *CachedRepository) InsertPostings(ctx context.Context, postings []models.JobPosting) ([]models.JobPosting, error) {
	committed, err := c.inner.InsertPostings(ctx, postings)
	if err != nil {
		return nil, err
	}
	if len(committed) > 0 {
		members := make([]interface{}, 0, len(committed))
		for _, p := range committed {
			members = append(members, p.Fingerprint)
		}
		if cacheErr := c.client.SAdd(ctx, fingerprintSetKey, members...).Err(); cacheErr != nil {
			c.logger.Warn("fingerprint cache update failed", map[string]interface{}{
				"error": cacheErr.Error(),
			})
		}
	}
	return committed, nil
}

func (c *CachedRepository) Subscribers(ctx context.Context) ([]models.Subscriber, error) {
	return c.inner.Subscribers(ctx)
}

func (c *CachedRepository) AlreadyNotified(ctx context.Context, email string, fingerprints []string) (map[string]struct{}, error) {
	return c.inner.AlreadyNotified(ctx, email, fingerprints)
}

func (c *CachedRepository) RecordNotifications(ctx context.Context, email string, fingerprints []string, sentAt time.Time) error {
	return c.inner.RecordNotifications(ctx, email, fingerprints, sentAt)
}
