// Package notify delivers per-subscriber digest emails over SES and operator
// alerts over SNS.
package notify

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"jobdigest/internal/common/errors"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/common/metrics"
	"jobdigest/internal/models"
)

// SESService is the slice of the SES client the dispatcher needs; mockable in
// tests.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result describes one delivery attempt. Delivered lists the fingerprints the
// caller may now record as notified; it is only set for OutcomeSent.
type Result struct {
	Outcome     Outcome
	Delivered   []string
	AuthFailure bool
	Err         error
}

type Dispatcher struct {
	ses       SESService // nil when mail is unconfigured
	fromEmail string
	timeout   time.Duration // per send attempt
	logger    logger.Logger
}

func NewDispatcher(sesClient SESService, fromEmail string, timeout time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{ses: sesClient, fromEmail: fromEmail, timeout: timeout, logger: log}
}

// SendDigest emails the postings to the subscriber. An empty set is skipped
// without touching SES. Transient send failures get one immediate retry;
// credential rejections are flagged so the caller can stop retrying for the
// rest of the run. With no SES client configured the dispatcher degrades to a
// logged failure instead of crashing the run.
func (d *Dispatcher) SendDigest(ctx context.Context, sub models.Subscriber, postings []models.RawPosting, fingerprints []string) Result {
	if len(postings) == 0 {
		return Result{Outcome: OutcomeSkipped}
	}

	if d.ses == nil {
		d.logger.Warn("mail delivery not configured, digest not sent", map[string]interface{}{
			"subscriber": sub.Email,
			"postings":   len(postings),
		})
		metrics.DigestsFailed.WithLabelValues("unconfigured").Inc()
		return Result{Outcome: OutcomeFailed, Err: errors.NewDeliveryError(stderrors.New("mail delivery not configured"))}
	}

	subject, body, err := renderDigest(sub, postings)
	if err != nil {
		metrics.DigestsFailed.WithLabelValues("render").Inc()
		return Result{Outcome: OutcomeFailed, Err: errors.NewDeliveryError(err)}
	}

	err = d.sendEmail(ctx, sub.Email, subject, body)
	if err != nil && !isAuthError(err) {
		d.logger.Warn("digest send failed, retrying once", map[string]interface{}{
			"subscriber": sub.Email,
			"error":      err.Error(),
		})
		err = d.sendEmail(ctx, sub.Email, subject, body)
	}
	if err != nil {
		if isAuthError(err) {
			metrics.DigestsFailed.WithLabelValues("auth").Inc()
			return Result{
				Outcome:     OutcomeFailed,
				AuthFailure: true,
				Err:         errors.NewAuthError("mail delivery", err.Error()),
			}
		}
		metrics.DigestsFailed.WithLabelValues("delivery").Inc()
		return Result{Outcome: OutcomeFailed, Err: errors.NewDeliveryError(err)}
	}

	metrics.DigestsSent.Inc()
	return Result{Outcome: OutcomeSent, Delivered: fingerprints}
}

func (d *Dispatcher) sendEmail(ctx context.Context, to, subject, body string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	_, err := d.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(d.fromEmail),
	})
	return err
}

// isAuthError classifies AWS API errors that indicate bad credentials rather
// than a transient delivery problem.
func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidClientTokenId",
		"SignatureDoesNotMatch",
		"UnrecognizedClientException",
		"AccessDeniedException",
		"ExpiredTokenException":
		return true
	}
	return false
}
