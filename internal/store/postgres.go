package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"jobdigest/internal/common/errors"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresRepository implements Repository plus the subscriber-management and
// query operations consumed by the UI layer.
type PostgresRepository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresRepository(db *sql.DB, log logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: log}
}

// Migrate creates the schema if it does not exist. Idempotent; run at startup.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			email         TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			keyword       TEXT NOT NULL DEFAULT 'Data Scientist',
			location      TEXT NOT NULL DEFAULT 'Germany',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS job_postings (
			fingerprint     TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			location        TEXT NOT NULL,
			employment_type TEXT NOT NULL,
			first_seen_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_records (
			subscriber_email    TEXT NOT NULL REFERENCES subscribers(email),
			posting_fingerprint TEXT NOT NULL,
			sent_at             TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subscriber_email, posting_fingerprint)
		)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			subscriber_email    TEXT NOT NULL REFERENCES subscribers(email),
			posting_fingerprint TEXT NOT NULL,
			saved_at            TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subscriber_email, posting_fingerprint)
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewQueryExecutionFailedError("migrate", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Subscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email, keyword, location FROM subscribers ORDER BY email`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("subscribers", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		if err := rows.Scan(&s.Email, &s.Keyword, &s.Location); err != nil {
			return nil, errors.NewQueryExecutionFailedError("subscribers", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("subscribers", err)
	}
	return subs, nil
}

func (r *PostgresRepository) ExistingFingerprints(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT fingerprint FROM job_postings`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("existing_fingerprints", err)
	}
	defer rows.Close()

	fps := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, errors.NewQueryExecutionFailedError("existing_fingerprints", err)
		}
		fps[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("existing_fingerprints", err)
	}
	return fps, nil
}

// InsertPostings writes the batch inside one transaction. ON CONFLICT DO
// NOTHING makes losing a concurrent-insert race equivalent to the row having
// existed all along; the returned subset contains only rows this call wrote.
func (r *PostgresRepository) InsertPostings(ctx context.Context, postings []models.JobPosting) ([]models.JobPosting, error) {
	if len(postings) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_postings (fingerprint, title, location, employment_type, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO NOTHING`)
	if err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	defer stmt.Close()

	var committed []models.JobPosting
	for _, p := range postings {
		res, err := stmt.ExecContext(ctx, p.Fingerprint, p.Title, p.Location, p.EmploymentType, p.FirstSeenAt)
		if err != nil {
			return nil, errors.NewDatabaseInsertFailedError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.NewDatabaseInsertFailedError(err)
		}
		if affected > 0 {
			committed = append(committed, p)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	return committed, nil
}

func (r *PostgresRepository) AlreadyNotified(ctx context.Context, email string, fingerprints []string) (map[string]struct{}, error) {
	if len(fingerprints) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT posting_fingerprint FROM notification_records
		WHERE subscriber_email = $1 AND posting_fingerprint = ANY($2)`,
		email, pq.Array(fingerprints))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("already_notified", err)
	}
	defer rows.Close()

	notified := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, errors.NewQueryExecutionFailedError("already_notified", err)
		}
		notified[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("already_notified", err)
	}
	return notified, nil
}

func (r *PostgresRepository) RecordNotifications(ctx context.Context, email string, fingerprints []string, sentAt time.Time) error {
	if len(fingerprints) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notification_records (subscriber_email, posting_fingerprint, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_email, posting_fingerprint) DO NOTHING`)
	if err != nil {
		return errors.NewDatabaseInsertFailedError(err)
	}
	defer stmt.Close()

	for _, fp := range fingerprints {
		if _, err := stmt.ExecContext(ctx, email, fp, sentAt); err != nil {
			return errors.NewDatabaseInsertFailedError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

// hashPassword matches the credential scheme used by the web UI.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CreateSubscriber registers a new subscriber. Empty keyword or location fall
// back to the column defaults.
func (r *PostgresRepository) CreateSubscriber(ctx context.Context, email, password, keyword, location string) error {
	if keyword == "" {
		keyword = "Data Scientist"
	}
	if location == "" {
		location = "Germany"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (email, password_hash, keyword, location)
		VALUES ($1, $2, $3, $4)`,
		email, hashPassword(password), keyword, location)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return errors.NewSubscriberExistsError(email)
		}
		return errors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

// VerifySubscriber checks login credentials. A missing subscriber and a wrong
// password are indistinguishable to the caller.
func (r *PostgresRepository) VerifySubscriber(ctx context.Context, email, password string) (bool, error) {
	var stored string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM subscribers WHERE email = $1`, email).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("verify_subscriber", err)
	}
	return stored == hashPassword(password), nil
}

// UpdatePreferences changes a subscriber's search preference, effective from
// the next scheduled run.
func (r *PostgresRepository) UpdatePreferences(ctx context.Context, email, keyword, location string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET keyword = $2, location = $3 WHERE email = $1`,
		email, keyword, location)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update_preferences", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewQueryExecutionFailedError("update_preferences", err)
	}
	if affected == 0 {
		return errors.NewSubscriberNotFoundError(email)
	}
	return nil
}

// FilterPostings returns stored postings matching the keyword, location
// substring and employment type, newest first. Empty filters match
// everything.
func (r *PostgresRepository) FilterPostings(ctx context.Context, keyword, location, employmentType string) ([]models.JobPosting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fingerprint, title, location, employment_type, first_seen_at
		FROM job_postings
		WHERE title ILIKE '%' || $1 || '%'
		  AND location ILIKE '%' || $2 || '%'
		  AND ($3 = '' OR employment_type = $3)
		ORDER BY first_seen_at DESC`,
		keyword, location, employmentType)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("filter_postings", err)
	}
	defer rows.Close()

	var postings []models.JobPosting
	for rows.Next() {
		var p models.JobPosting
		if err := rows.Scan(&p.Fingerprint, &p.Title, &p.Location, &p.EmploymentType, &p.FirstSeenAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("filter_postings", err)
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("filter_postings", err)
	}
	return postings, nil
}

// CountNewSince reports how many postings were first seen after the cutoff.
func (r *PostgresRepository) CountNewSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_postings WHERE first_seen_at > $1`, since).Scan(&count)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("count_new_since", err)
	}
	return count, nil
}

// AddFavorite saves a posting for a subscriber. Saving an existing favorite
// is a no-op; an unknown subscriber is rejected.
func (r *PostgresRepository) AddFavorite(ctx context.Context, email, fingerprint string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO favorites (subscriber_email, posting_fingerprint, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_email, posting_fingerprint) DO NOTHING`,
		email, fingerprint, time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation {
			return errors.NewSubscriberNotFoundError(email)
		}
		return errors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

func (r *PostgresRepository) FavoritesBySubscriber(ctx context.Context, email string) ([]models.Favorite, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subscriber_email, posting_fingerprint, saved_at
		FROM favorites WHERE subscriber_email = $1 ORDER BY saved_at DESC`,
		email)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("favorites_by_subscriber", err)
	}
	defer rows.Close()

	var favs []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.SubscriberEmail, &f.PostingFingerprint, &f.SavedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("favorites_by_subscriber", err)
		}
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("favorites_by_subscriber", err)
	}
	return favs, nil
}
