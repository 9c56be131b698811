package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

// PostingIndex mirrors committed postings into Elasticsearch for the UI's
// search views. Indexing is best effort: failures are logged and never fail
// the run that produced the postings.
type PostingIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewPostingIndex(client *elasticsearch.Client, index string, log logger.Logger) *PostingIndex {
	return &PostingIndex{client: client, index: index, logger: log}
}

type postingDocument struct {
	Title          string `json:"title"`
	Location       string `json:"location"`
	EmploymentType string `json:"employment_type"`
	FirstSeenAt    string `json:"first_seen_at"`
}

// IndexPostings upserts each posting under its fingerprint, so re-indexing
// after a partial failure is safe.
func (x *PostingIndex) IndexPostings(ctx context.Context, postings []models.JobPosting) {
	for _, p := range postings {
		if err := x.indexOne(ctx, p); err != nil {
			x.logger.Warn("posting index write failed", map[string]interface{}{
				"fingerprint": p.Fingerprint,
				"error":       err.Error(),
			})
		}
	}
}

func (x *PostingIndex) indexOne(ctx context.Context, p models.JobPosting) error {
	doc, err := json.Marshal(postingDocument{
		Title:          p.Title,
		Location:       p.Location,
		EmploymentType: p.EmploymentType,
		FirstSeenAt:    p.FirstSeenAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: p.Fingerprint,
		Body:       bytes.NewReader(doc),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index request failed: %s", res.String())
	}
	return nil
}
