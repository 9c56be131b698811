// Package jobsource fetches postings for a subscriber's search preference
// from the JSearch RapidAPI endpoint.
package jobsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"jobdigest/internal/common/config"
	"jobdigest/internal/common/errors"
	commonhttp "jobdigest/internal/common/http"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/common/metrics"
	"jobdigest/internal/models"
)

// entrySchema is applied per entry. Entries that fail it are dropped and
// logged; the rest of the response still counts as a successful fetch.
var entrySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"job_title":           map[string]interface{}{"type": "string", "minLength": 1},
		"job_location":        map[string]interface{}{"type": "string", "minLength": 1},
		"job_employment_type": map[string]interface{}{"type": "string"},
	},
	"required": []interface{}{"job_title", "job_location"},
}

type Client struct {
	cfg        config.SourceConfig
	httpClient *commonhttp.Client
	logger     logger.Logger
}

func NewClient(cfg config.SourceConfig, log logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: commonhttp.NewClient(config.GetDuration(cfg.Timeout)),
		logger:     log,
	}
}

// Fetch returns the current postings matching the subscriber's keyword and
// location. Transient failures (timeouts, 429, 5xx) are retried with
// exponential backoff up to the configured attempt cap; authentication
// rejections abort immediately and are never retried within the tick.
func (c *Client) Fetch(ctx context.Context, sub models.Subscriber) ([]models.RawPosting, error) {
	start := time.Now()

	var lastErr error
	backoff := config.GetDuration(c.cfg.BackoffInitial)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		postings, err := c.fetchOnce(ctx, sub)
		if err == nil {
			metrics.FetchDuration.Observe(time.Since(start).Seconds())
			return postings, nil
		}
		if errors.HasCode(err, errors.ErrCodeAuth) {
			return nil, err
		}
		lastErr = err

		c.logger.Warn("job source fetch failed, retrying", map[string]interface{}{
			"subscriber": sub.Email,
			"attempt":    attempt,
			"error":      err.Error(),
		})

		if attempt < c.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, errors.NewTransientSourceError(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, sub models.Subscriber) ([]models.RawPosting, error) {
	req, err := c.buildRequest(sub)
	if err != nil {
		return nil, errors.NewTransientSourceError(err)
	}

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, errors.NewTransientSourceError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewAuthError("job source", fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewTransientSourceError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientSourceError(err)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewTransientSourceError(fmt.Errorf("decode response: %w", err))
	}

	return c.parseEntries(sub, payload.Data), nil
}

func (c *Client) buildRequest(sub models.Subscriber) (*http.Request, error) {
	q := url.Values{}
	q.Set("query", sub.Keyword)
	q.Set("location", sub.Location)
	q.Set("num_pages", "1")

	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.cfg.APIHost)
	return req, nil
}

// parseEntries validates and normalizes each response entry, dropping the
// malformed ones without failing the fetch.
func (c *Client) parseEntries(sub models.Subscriber, raw []json.RawMessage) []models.RawPosting {
	schemaLoader := gojsonschema.NewGoLoader(entrySchema)
	out := make([]models.RawPosting, 0, len(raw))

	for i, item := range raw {
		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(item))
		if err != nil || !result.Valid() {
			details := fmt.Sprintf("entry %d", i)
			if err != nil {
				details = fmt.Sprintf("entry %d: %s", i, err.Error())
			} else if len(result.Errors()) > 0 {
				details = fmt.Sprintf("entry %d: %s", i, result.Errors()[0].String())
			}
			c.logger.Warn("dropping malformed source entry", map[string]interface{}{
				"subscriber": sub.Email,
				"reason":     errors.NewMalformedEntryError(details).Details,
			})
			continue
		}

		var entry searchEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			c.logger.Warn("dropping malformed source entry", map[string]interface{}{
				"subscriber": sub.Email,
				"reason":     err.Error(),
			})
			continue
		}

		employmentType := entry.JobEmploymentType
		if employmentType == "" {
			employmentType = c.cfg.DefaultEmploymentType
		}

		out = append(out, models.RawPosting{
			Title:          entry.JobTitle,
			Location:       entry.JobLocation,
			EmploymentType: employmentType,
		})
	}

	return out
}
