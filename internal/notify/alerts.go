package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

// SNSService is the slice of the SNS client used for operator alerts.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// OperatorAlerter publishes a summary to an SNS topic when a run finishes
// with failures. Publishing is best effort.
type OperatorAlerter struct {
	sns      SNSService
	topicARN string
	logger   logger.Logger
}

func NewOperatorAlerter(snsClient SNSService, topicARN string, log logger.Logger) *OperatorAlerter {
	return &OperatorAlerter{sns: snsClient, topicARN: topicARN, logger: log}
}

// AlertOnFailures publishes nothing for a clean run.
func (a *OperatorAlerter) AlertOnFailures(ctx context.Context, report models.TickReport) {
	if report.Failed == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Digest run %s: %d of %d subscribers failed", report.RunID, report.Failed, report.Subscribers)
	if report.AuthFailures > 0 {
		fmt.Fprintf(&b, " (%d auth failures)", report.AuthFailures)
	}
	b.WriteString("\n")
	for _, f := range report.Failures {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", f.Email, f.Stage, f.Reason)
	}

	_, err := a.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(fmt.Sprintf("Digest run failures (%d)", report.Failed)),
		Message:  aws.String(b.String()),
	})
	if err != nil {
		a.logger.Error("operator alert publish failed", map[string]interface{}{
			"runId": report.RunID,
			"error": err.Error(),
		})
	}
}
