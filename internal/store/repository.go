// Package store persists postings, subscribers, notification records and
// favorites, with Postgres as the authoritative backend.
package store

import (
	"context"
	"time"

	"jobdigest/internal/models"
)

// Repository is the persistence surface the pipeline runs against. All
// methods are safe for concurrent use.
type Repository interface {
	// Subscribers returns every registered subscriber.
	Subscribers(ctx context.Context) ([]models.Subscriber, error)

	// ExistingFingerprints returns the full set of known posting
	// fingerprints. Loaded once per run; concurrent inserts during the run
	// are arbitrated by InsertPostings.
	ExistingFingerprints(ctx context.Context) (map[string]struct{}, error)

	// InsertPostings writes postings if absent and returns the subset this
	// call actually committed. Rows already present are silently skipped.
	InsertPostings(ctx context.Context, postings []models.JobPosting) ([]models.JobPosting, error)

	// AlreadyNotified returns which of the given fingerprints already have a
	// notification record for the subscriber.
	AlreadyNotified(ctx context.Context, email string, fingerprints []string) (map[string]struct{}, error)

	// RecordNotifications durably marks the postings as delivered to the
	// subscriber. Recording an existing pair is a no-op.
	RecordNotifications(ctx context.Context, email string, fingerprints []string, sentAt time.Time) error
}
