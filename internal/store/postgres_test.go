package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdigest/internal/common/errors"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db, logger.NewNoOpLogger()), mock
}

func TestSubscribers_ReturnsAllRows(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT email, keyword, location FROM subscribers")).
		WillReturnRows(sqlmock.NewRows([]string{"email", "keyword", "location"}).
			AddRow("alice@example.com", "Data Scientist", "Germany").
			AddRow("bob@example.com", "ML Engineer", "Berlin"))

	subs, err := repo.Subscribers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.Subscriber{
		{Email: "alice@example.com", Keyword: "Data Scientist", Location: "Germany"},
		{Email: "bob@example.com", Keyword: "ML Engineer", Location: "Berlin"},
	}, subs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostings_ReturnsOnlyCommittedSubset(t *testing.T) {
	repo, mock := newMockRepository(t)

	now := time.Now().UTC()
	fresh := models.JobPosting{Fingerprint: "fp-new", Title: "Data Scientist", Location: "Berlin", EmploymentType: "Vollzeit", FirstSeenAt: now}
	dup := models.JobPosting{Fingerprint: "fp-dup", Title: "ML Engineer", Location: "Hamburg", EmploymentType: "Vollzeit", FirstSeenAt: now}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO job_postings"))
	prep.ExpectExec().
		WithArgs(fresh.Fingerprint, fresh.Title, fresh.Location, fresh.EmploymentType, fresh.FirstSeenAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(dup.Fingerprint, dup.Title, dup.Location, dup.EmploymentType, dup.FirstSeenAt).
		WillReturnResult(sqlmock.NewResult(0, 0)) // lost the insert race
	mock.ExpectCommit()

	committed, err := repo.InsertPostings(context.Background(), []models.JobPosting{fresh, dup})
	require.NoError(t, err)

	assert.Equal(t, []models.JobPosting{fresh}, committed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostings_EmptyBatchSkipsDatabase(t *testing.T) {
	repo, mock := newMockRepository(t)

	committed, err := repo.InsertPostings(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, committed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlreadyNotified_ReturnsRecordedFingerprints(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT posting_fingerprint FROM notification_records")).
		WithArgs("alice@example.com", pq.Array([]string{"fp-1", "fp-2"})).
		WillReturnRows(sqlmock.NewRows([]string{"posting_fingerprint"}).AddRow("fp-1"))

	notified, err := repo.AlreadyNotified(context.Background(), "alice@example.com", []string{"fp-1", "fp-2"})
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"fp-1": {}}, notified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlreadyNotified_EmptyInputSkipsDatabase(t *testing.T) {
	repo, mock := newMockRepository(t)

	notified, err := repo.AlreadyNotified(context.Background(), "alice@example.com", nil)
	require.NoError(t, err)

	assert.Empty(t, notified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordNotifications_WritesAllPairs(t *testing.T) {
	repo, mock := newMockRepository(t)
	sentAt := time.Now().UTC()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO notification_records"))
	prep.ExpectExec().WithArgs("alice@example.com", "fp-1", sentAt).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("alice@example.com", "fp-2", sentAt).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RecordNotifications(context.Background(), "alice@example.com", []string{"fp-1", "fp-2"}, sentAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubscriber_DuplicateEmail(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscribers")).
		WithArgs("alice@example.com", hashPassword("secret"), "Data Scientist", "Germany").
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := repo.CreateSubscriber(context.Background(), "alice@example.com", "secret", "", "")

	assert.True(t, errors.HasCode(err, errors.ErrCodeSubscriberExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySubscriber(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT password_hash FROM subscribers")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(hashPassword("secret")))

	ok, err := repo.VerifySubscriber(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT password_hash FROM subscribers")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(hashPassword("secret")))

	ok, err = repo.VerifySubscriber(context.Background(), "alice@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT password_hash FROM subscribers")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}))

	ok, err = repo.VerifySubscriber(context.Background(), "nobody@example.com", "secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdatePreferences_UnknownSubscriber(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscribers SET")).
		WithArgs("nobody@example.com", "DevOps", "Munich").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePreferences(context.Background(), "nobody@example.com", "DevOps", "Munich")

	assert.True(t, errors.HasCode(err, errors.ErrCodeSubscriberNotFound))
}

func TestAddFavorite_UnknownSubscriber(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO favorites")).
		WithArgs("nobody@example.com", "fp-1", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err := repo.AddFavorite(context.Background(), "nobody@example.com", "fp-1")

	assert.True(t, errors.HasCode(err, errors.ErrCodeSubscriberNotFound))
}

func TestCountNewSince(t *testing.T) {
	repo, mock := newMockRepository(t)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM job_postings WHERE first_seen_at > $1")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := repo.CountNewSince(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, 5, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFavoritesBySubscriber_ScansRows(t *testing.T) {
	repo, mock := newMockRepository(t)
	saved := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM favorites WHERE subscriber_email = $1")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_email", "posting_fingerprint", "saved_at"}).
			AddRow("alice@example.com", "fp-2", saved).
			AddRow("alice@example.com", "fp-1", saved.Add(-time.Hour)))

	favs, err := repo.FavoritesBySubscriber(context.Background(), "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, []models.Favorite{
		{SubscriberEmail: "alice@example.com", PostingFingerprint: "fp-2", SavedAt: saved},
		{SubscriberEmail: "alice@example.com", PostingFingerprint: "fp-1", SavedAt: saved.Add(-time.Hour)},
	}, favs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterPostings_ScansRows(t *testing.T) {
	repo, mock := newMockRepository(t)
	seen := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_postings")).
		WithArgs("Data", "Berlin", "Vollzeit").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "title", "location", "employment_type", "first_seen_at"}).
			AddRow("fp-1", "Data Scientist", "Berlin", "Vollzeit", seen))

	postings, err := repo.FilterPostings(context.Background(), "Data", "Berlin", "Vollzeit")
	require.NoError(t, err)

	assert.Equal(t, []models.JobPosting{
		{Fingerprint: "fp-1", Title: "Data Scientist", Location: "Berlin", EmploymentType: "Vollzeit", FirstSeenAt: seen},
	}, postings)
}
