package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

// countingRepository records how often each inner method runs.
type countingRepository struct {
	fingerprints     map[string]struct{}
	fingerprintCalls int
	insertCalls      int
}

func (f *countingRepository) Subscribers(ctx context.Context) ([]models.Subscriber, error) {
	return nil, nil
}

func (f *countingRepository) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	f.fingerprintCalls++
	out := make(map[string]struct{}, len(f.fingerprints))
	for fp := range f.fingerprints {
		out[fp] = struct{}{}
	}
	return out, nil
}

func (f *countingRepository) InsertPostings(ctx context.Context, postings []models.JobPosting) ([]models.JobPosting, error) {
	f.insertCalls++
	var committed []models.JobPosting
	for _, p := range postings {
		if _, ok := f.fingerprints[p.Fingerprint]; ok {
			continue
		}
		f.fingerprints[p.Fingerprint] = struct{}{}
		committed = append(committed, p)
	}
	return committed, nil
}

func (f *countingRepository) AlreadyNotified(ctx context.Context, email string, fingerprints []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (f *countingRepository) RecordNotifications(ctx context.Context, email string, fingerprints []string, sentAt time.Time) error {
	return nil
}

func newCachedRepository(t *testing.T, inner Repository) (*CachedRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCachedRepository(inner, client, time.Hour, logger.NewNoOpLogger()), mr
}

func TestExistingFingerprints_PopulatesCacheOnMiss(t *testing.T) {
	inner := &countingRepository{fingerprints: map[string]struct{}{"fp-1": {}, "fp-2": {}}}
	cached, mr := newCachedRepository(t, inner)

	fps, err := cached.ExistingFingerprints(context.Background())
	require.NoError(t, err)
	assert.Len(t, fps, 2)
	assert.Equal(t, 1, inner.fingerprintCalls)

	members, err := mr.SMembers(fingerprintSetKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fp-1", "fp-2"}, members)
}

func TestExistingFingerprints_ServesFromCacheOnHit(t *testing.T) {
	inner := &countingRepository{fingerprints: map[string]struct{}{"fp-1": {}}}
	cached, _ := newCachedRepository(t, inner)

	_, err := cached.ExistingFingerprints(context.Background())
	require.NoError(t, err)

	fps, err := cached.ExistingFingerprints(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"fp-1": {}}, fps)
	assert.Equal(t, 1, inner.fingerprintCalls, "second read should not hit the database")
}

func TestExistingFingerprints_FallsBackWhenRedisDown(t *testing.T) {
	inner := &countingRepository{fingerprints: map[string]struct{}{"fp-1": {}}}
	cached, mr := newCachedRepository(t, inner)
	mr.Close()

	fps, err := cached.ExistingFingerprints(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"fp-1": {}}, fps)
	assert.Equal(t, 1, inner.fingerprintCalls)
}

func TestInsertPostings_AddsCommittedToCache(t *testing.T) {
	inner := &countingRepository{fingerprints: map[string]struct{}{"fp-known": {}}}
	cached, mr := newCachedRepository(t, inner)

	committed, err := cached.InsertPostings(context.Background(), []models.JobPosting{
		{Fingerprint: "fp-known", Title: "Old"},
		{Fingerprint: "fp-new", Title: "New"},
	})
	require.NoError(t, err)

	require.Len(t, committed, 1)
	assert.Equal(t, "fp-new", committed[0].Fingerprint)

	members, err := mr.SMembers(fingerprintSetKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fp-new"}, members)
}
