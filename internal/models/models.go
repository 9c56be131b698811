// Package models defines the shared data structures of the digest service.
package models

import "time"

// Subscriber is a registered user with a keyword/location search preference.
// The pipeline reads subscribers from the preference store and never mutates
// them.
type Subscriber struct {
	Email    string `json:"email"`
	Keyword  string `json:"keyword"`
	Location string `json:"location"`
}

// RawPosting is a single normalized entry returned by the external job
// source. Ordering of fetched postings carries no meaning.
type RawPosting struct {
	Title          string `json:"title"`
	Location       string `json:"location"`
	EmploymentType string `json:"employmentType"`
}

// JobPosting is a persisted posting. Identity is the fingerprint; rows are
// immutable once written.
type JobPosting struct {
	Fingerprint    string    `json:"fingerprint"`
	Title          string    `json:"title"`
	Location       string    `json:"location"`
	EmploymentType string    `json:"employmentType"`
	FirstSeenAt    time.Time `json:"firstSeenAt"`
}

// NotificationRecord is durable proof that a posting has been delivered to a
// subscriber. Its existence is the sole gate against re-delivery.
type NotificationRecord struct {
	SubscriberEmail    string    `json:"subscriberEmail"`
	PostingFingerprint string    `json:"postingFingerprint"`
	SentAt             time.Time `json:"sentAt"`
}

// Favorite is a posting a subscriber saved from the UI. It must reference an
// existing subscriber but may reference a posting not tracked elsewhere.
type Favorite struct {
	SubscriberEmail    string    `json:"subscriberEmail"`
	PostingFingerprint string    `json:"postingFingerprint"`
	SavedAt            time.Time `json:"savedAt"`
}

// Stage identifies where a subscriber sits in the per-tick pipeline.
type Stage string

const (
	StagePending      Stage = "pending"
	StageFetching     Stage = "fetching"
	StageFetchFailed  Stage = "fetch_failed"
	StageFetched      Stage = "fetched"
	StagePersisting   Stage = "persisting"
	StageNotifying    Stage = "notifying"
	StageNotified     Stage = "notified"
	StageNotifyFailed Stage = "notify_failed"
)

// SubscriberFailure records one failing subscriber in a tick report.
type SubscriberFailure struct {
	Email  string `json:"email"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// TickReport aggregates the outcome of one scheduled run across all
// subscribers, for operator visibility.
type TickReport struct {
	RunID           string              `json:"runId"`
	StartedAt       time.Time           `json:"startedAt"`
	Duration        time.Duration       `json:"duration"`
	Subscribers     int                 `json:"subscribers"`
	PostingsFetched int                 `json:"postingsFetched"`
	NewPostings     int                 `json:"newPostings"`
	Notified        int                 `json:"notified"`
	Failed          int                 `json:"failed"`
	AuthFailures    int                 `json:"authFailures"`
	Failures        []SubscriberFailure `json:"failures,omitempty"`
}
