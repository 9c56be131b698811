package notify

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdigest/internal/common/errors"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/models"
)

type mockSES struct {
	calls     int
	inputs    []*ses.SendEmailInput
	deadlines []*time.Time // per call; nil when the context had none
	errs      []error      // consumed per call; nil past the end
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls++
	m.inputs = append(m.inputs, params)
	if dl, ok := ctx.Deadline(); ok {
		m.deadlines = append(m.deadlines, &dl)
	} else {
		m.deadlines = append(m.deadlines, nil)
	}
	if m.calls <= len(m.errs) {
		return nil, m.errs[m.calls-1]
	}
	return &ses.SendEmailOutput{}, nil
}

func newTestDispatcher(mock SESService) *Dispatcher {
	return NewDispatcher(mock, "digest@example.com", time.Minute, logger.NewNoOpLogger())
}

var digestSubscriber = models.Subscriber{
	Email:    "alice@example.com",
	Keyword:  "Data Scientist",
	Location: "Germany",
}

var digestPostings = []models.RawPosting{
	{Title: "Data Scientist", Location: "Berlin", EmploymentType: "Vollzeit"},
	{Title: "ML Engineer", Location: "Hamburg", EmploymentType: "Teilzeit"},
}

func TestSendDigest_Success(t *testing.T) {
	mock := &mockSES{}
	d := newTestDispatcher(mock)

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1", "fp-2"})

	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, []string{"fp-1", "fp-2"}, res.Delivered)
	assert.Equal(t, 1, mock.calls)

	input := mock.inputs[0]
	assert.Equal(t, []string{"alice@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "digest@example.com", *input.Source)
	assert.Contains(t, *input.Message.Subject.Data, "2 neue Jobs")

	body := *input.Message.Body.Html.Data
	assert.Contains(t, body, "Data Scientist")
	assert.Contains(t, body, "Hamburg")
}

func TestSendDigest_AppliesDeliveryTimeout(t *testing.T) {
	mock := &mockSES{}
	d := NewDispatcher(mock, "digest@example.com", 5*time.Second, logger.NewNoOpLogger())

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeSent, res.Outcome)
	require.Equal(t, 1, mock.calls)
	require.NotNil(t, mock.deadlines[0], "SES send should run under the configured delivery timeout")
	assert.WithinDuration(t, time.Now().Add(5*time.Second), *mock.deadlines[0], time.Second)
}

func TestSendDigest_RetryGetsFreshTimeout(t *testing.T) {
	mock := &mockSES{errs: []error{stderrors.New("throttled")}}
	d := NewDispatcher(mock, "digest@example.com", 5*time.Second, logger.NewNoOpLogger())

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeSent, res.Outcome)
	require.Equal(t, 2, mock.calls)
	require.NotNil(t, mock.deadlines[1])
}

func TestSendDigest_EmptySetIsSkippedWithoutSending(t *testing.T) {
	mock := &mockSES{}
	d := newTestDispatcher(mock)

	res := d.SendDigest(context.Background(), digestSubscriber, nil, nil)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Zero(t, mock.calls)
}

func TestSendDigest_RetriesOnceOnTransientFailure(t *testing.T) {
	mock := &mockSES{errs: []error{stderrors.New("throttled")}}
	d := newTestDispatcher(mock)

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 2, mock.calls)
}

func TestSendDigest_FailsAfterRetryExhausted(t *testing.T) {
	mock := &mockSES{errs: []error{stderrors.New("down"), stderrors.New("still down")}}
	d := newTestDispatcher(mock)

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.AuthFailure)
	assert.True(t, errors.HasCode(res.Err, errors.ErrCodeDelivery))
	assert.Empty(t, res.Delivered)
	assert.Equal(t, 2, mock.calls)
}

func TestSendDigest_AuthFailureIsNotRetried(t *testing.T) {
	authErr := &smithy.GenericAPIError{Code: "InvalidClientTokenId", Message: "bad key"}
	mock := &mockSES{errs: []error{authErr, authErr}}
	d := newTestDispatcher(mock)

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.AuthFailure)
	assert.True(t, errors.HasCode(res.Err, errors.ErrCodeAuth))
	assert.Equal(t, 1, mock.calls)
}

func TestSendDigest_UnconfiguredMailDegrades(t *testing.T) {
	d := NewDispatcher(nil, "", 0, logger.NewNoOpLogger())

	res := d.SendDigest(context.Background(), digestSubscriber, digestPostings, []string{"fp-1"})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.AuthFailure)
	assert.True(t, errors.HasCode(res.Err, errors.ErrCodeDelivery))
}

func TestRenderDigest_EscapesPostingFields(t *testing.T) {
	_, body, err := renderDigest(digestSubscriber, []models.RawPosting{
		{Title: "<script>alert(1)</script>", Location: "Berlin", EmploymentType: "Vollzeit"},
	})
	require.NoError(t, err)

	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

type mockSNS struct {
	calls    int
	messages []string
	subjects []string
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	m.messages = append(m.messages, *params.Message)
	m.subjects = append(m.subjects, *params.Subject)
	return &sns.PublishOutput{}, nil
}

func TestAlertOnFailures_CleanRunPublishesNothing(t *testing.T) {
	mock := &mockSNS{}
	a := NewOperatorAlerter(mock, "arn:aws:sns:eu-central-1:123:alerts", logger.NewNoOpLogger())

	a.AlertOnFailures(context.Background(), models.TickReport{RunID: "run-1", Subscribers: 3})

	assert.Zero(t, mock.calls)
}

func TestAlertOnFailures_SummarizesFailingSubscribers(t *testing.T) {
	mock := &mockSNS{}
	a := NewOperatorAlerter(mock, "arn:aws:sns:eu-central-1:123:alerts", logger.NewNoOpLogger())

	a.AlertOnFailures(context.Background(), models.TickReport{
		RunID:        "run-2",
		Subscribers:  3,
		Failed:       2,
		AuthFailures: 1,
		Failures: []models.SubscriberFailure{
			{Email: "alice@example.com", Stage: models.StageFetchFailed, Reason: "unexpected status 500"},
			{Email: "bob@example.com", Stage: models.StageNotifyFailed, Reason: "bad key"},
		},
	})

	require.Equal(t, 1, mock.calls)
	assert.Contains(t, mock.subjects[0], "2")

	msg := mock.messages[0]
	assert.True(t, strings.Contains(msg, "alice@example.com") && strings.Contains(msg, "bob@example.com"))
	assert.Contains(t, msg, "auth failures")
}
