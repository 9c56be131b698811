// Package pipeline runs the scheduled digest cycle: fetch postings per
// subscriber, persist the unseen ones, and deliver digests gated by
// notification records.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobdigest/internal/common/errors"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/common/metrics"
	"jobdigest/internal/common/observability"
	"jobdigest/internal/dedup"
	"jobdigest/internal/models"
	"jobdigest/internal/notify"
	"jobdigest/internal/store"
)

type SourceClient interface {
	Fetch(ctx context.Context, sub models.Subscriber) ([]models.RawPosting, error)
}

type Dispatcher interface {
	SendDigest(ctx context.Context, sub models.Subscriber, postings []models.RawPosting, fingerprints []string) notify.Result
}

// Indexer mirrors committed postings into a search backend.
type Indexer interface {
	IndexPostings(ctx context.Context, postings []models.JobPosting)
}

type Alerter interface {
	AlertOnFailures(ctx context.Context, report models.TickReport)
}

type Orchestrator struct {
	repo        store.Repository
	source      SourceClient
	dispatcher  Dispatcher
	indexer     Indexer // nil disables search mirroring
	alerter     Alerter // nil disables operator alerts
	obs         *observability.Observability
	concurrency int
	logger      logger.Logger
}

func NewOrchestrator(
	repo store.Repository,
	source SourceClient,
	dispatcher Dispatcher,
	indexer Indexer,
	alerter Alerter,
	obs *observability.Observability,
	concurrency int,
	log logger.Logger,
) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		repo:        repo,
		source:      source,
		dispatcher:  dispatcher,
		indexer:     indexer,
		alerter:     alerter,
		obs:         obs,
		concurrency: concurrency,
		logger:      log,
	}
}

// subscriberResult is the terminal state of one subscriber within a run.
type subscriberResult struct {
	stage       models.Stage
	fetched     int
	inserted    int
	digestSent  bool
	authFailure bool
	failure     *models.SubscriberFailure
}

// RunTick executes one full cycle over all subscribers. A failing subscriber
// never stops the others; the returned report aggregates every outcome. An
// error is returned only when the run cannot start at all.
func (o *Orchestrator) RunTick(ctx context.Context) (models.TickReport, error) {
	report := models.TickReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	metrics.TicksTotal.Inc()

	log := o.logger.WithFields(map[string]interface{}{"runId": report.RunID})
	log.Info("digest run started", nil)

	subscribers, err := o.repo.Subscribers(ctx)
	if err != nil {
		o.finish(ctx, &report, log, err)
		return report, err
	}
	report.Subscribers = len(subscribers)

	if len(subscribers) == 0 {
		log.Info("no subscribers registered, nothing to do", nil)
		o.finish(ctx, &report, log, nil)
		return report, nil
	}

	// Loaded once per run. Workers read it concurrently but never mutate it;
	// postings discovered mid-run are arbitrated by the insert-if-absent
	// write, not by this snapshot.
	existing, err := o.repo.ExistingFingerprints(ctx)
	if err != nil {
		o.finish(ctx, &report, log, err)
		return report, err
	}

	jobs := make(chan models.Subscriber)
	results := make(chan subscriberResult)

	for i := 0; i < o.concurrency; i++ {
		go func() {
			for sub := range jobs {
				results <- o.processSubscriber(ctx, sub, existing, log)
			}
		}()
	}
	go func() {
		for _, sub := range subscribers {
			jobs <- sub
		}
		close(jobs)
	}()

	for range subscribers {
		res := <-results
		report.PostingsFetched += res.fetched
		report.NewPostings += res.inserted
		if res.digestSent {
			report.Notified++
		}
		if res.authFailure {
			report.AuthFailures++
		}
		if res.failure != nil {
			report.Failed++
			report.Failures = append(report.Failures, *res.failure)
		}
		metrics.SubscriberOutcomes.WithLabelValues(string(res.stage)).Inc()
	}

	o.finish(ctx, &report, log, nil)
	return report, nil
}

func (o *Orchestrator) finish(ctx context.Context, report *models.TickReport, log logger.Logger, startErr error) {
	report.Duration = time.Since(report.StartedAt)
	metrics.TickDuration.Observe(report.Duration.Seconds())

	status := "success"
	switch {
	case startErr != nil:
		status = "error"
	case report.Failed > 0:
		status = "partial_failure"
	}
	if o.obs != nil {
		o.obs.RecordTick(ctx, status)
		o.obs.RecordTickDuration(ctx, report.Duration, status)
	}

	fields := map[string]interface{}{
		"status":          status,
		"subscribers":     report.Subscribers,
		"postingsFetched": report.PostingsFetched,
		"newPostings":     report.NewPostings,
		"notified":        report.Notified,
		"failed":          report.Failed,
		"durationMs":      report.Duration.Milliseconds(),
	}
	if startErr != nil {
		fields["error"] = startErr.Error()
		log.Error("digest run aborted", fields)
	} else {
		log.Info("digest run finished", fields)
	}

	if o.alerter != nil && startErr == nil {
		o.alerter.AlertOnFailures(ctx, *report)
	}
}

func (o *Orchestrator) processSubscriber(ctx context.Context, sub models.Subscriber, existing map[string]struct{}, log logger.Logger) subscriberResult {
	log = log.WithFields(map[string]interface{}{"subscriber": sub.Email})

	postings, err := o.source.Fetch(ctx, sub)
	if err != nil {
		log.Error("fetch failed", map[string]interface{}{"error": err.Error()})
		return subscriberResult{
			stage:       models.StageFetchFailed,
			authFailure: errors.HasCode(err, errors.ErrCodeAuth),
			failure: &models.SubscriberFailure{
				Email:  sub.Email,
				Stage:  models.StageFetchFailed,
				Reason: errors.AsStandard(err).Details,
			},
		}
	}
	result := subscriberResult{fetched: len(postings)}
	metrics.PostingsFetched.Add(float64(len(postings)))

	// Unique postings of this fetch, in arrival order. They feed both the
	// storage write (minus globally known ones) and the digest candidates.
	unique := dedup.FilterNew(postings, map[string]struct{}{})
	fresh := dedup.FilterNew(unique, existing)

	now := time.Now().UTC()
	rows := make([]models.JobPosting, len(fresh))
	for i, p := range fresh {
		rows[i] = models.JobPosting{
			Fingerprint:    dedup.Fingerprint(p),
			Title:          p.Title,
			Location:       p.Location,
			EmploymentType: p.EmploymentType,
			FirstSeenAt:    now,
		}
	}

	committed, err := o.repo.InsertPostings(ctx, rows)
	if err != nil {
		log.Error("persist failed", map[string]interface{}{"error": err.Error()})
		result.stage = models.StagePersisting
		result.failure = &models.SubscriberFailure{
			Email:  sub.Email,
			Stage:  models.StagePersisting,
			Reason: errors.AsStandard(err).Details,
		}
		return result
	}
	result.inserted = len(committed)
	metrics.PostingsInserted.Add(float64(len(committed)))

	if o.indexer != nil && len(committed) > 0 {
		o.indexer.IndexPostings(ctx, committed)
	}

	// Digest candidates are all postings of this fetch the subscriber has
	// not been notified about, not just the globally new ones: a posting
	// already known from another subscriber's search is still news here.
	fps := make([]string, len(unique))
	for i, p := range unique {
		fps[i] = dedup.Fingerprint(p)
	}
	notified, err := o.repo.AlreadyNotified(ctx, sub.Email, fps)
	if err != nil {
		log.Error("notification lookup failed", map[string]interface{}{"error": err.Error()})
		result.stage = models.StageNotifying
		result.failure = &models.SubscriberFailure{
			Email:  sub.Email,
			Stage:  models.StageNotifying,
			Reason: errors.AsStandard(err).Details,
		}
		return result
	}

	var toSend []models.RawPosting
	var toSendFps []string
	for i, p := range unique {
		if _, ok := notified[fps[i]]; ok {
			continue
		}
		toSend = append(toSend, p)
		toSendFps = append(toSendFps, fps[i])
	}

	res := o.dispatcher.SendDigest(ctx, sub, toSend, toSendFps)
	switch res.Outcome {
	case notify.OutcomeSkipped:
		result.stage = models.StageNotified
		return result

	case notify.OutcomeSent:
		if err := o.repo.RecordNotifications(ctx, sub.Email, res.Delivered, time.Now().UTC()); err != nil {
			// The digest went out but the records did not stick; the next
			// run will re-send these postings.
			log.Error("recording notifications failed", map[string]interface{}{"error": err.Error()})
			result.stage = models.StageNotifyFailed
			result.digestSent = true
			result.failure = &models.SubscriberFailure{
				Email:  sub.Email,
				Stage:  models.StageNotifyFailed,
				Reason: errors.AsStandard(err).Details,
			}
			return result
		}
		result.stage = models.StageNotified
		result.digestSent = true
		log.Info("digest delivered", map[string]interface{}{"postings": len(res.Delivered)})
		return result

	default:
		result.stage = models.StageNotifyFailed
		result.authFailure = res.AuthFailure
		reason := "delivery failed"
		if res.Err != nil {
			reason = errors.AsStandard(res.Err).Details
		}
		result.failure = &models.SubscriberFailure{
			Email:  sub.Email,
			Stage:  models.StageNotifyFailed,
			Reason: reason,
		}
		return result
	}
}
