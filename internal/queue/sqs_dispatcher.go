package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"applypilot-backend/internal/shared/telemetry"
)

// SQSDispatcher delivers handoffs to AWS SQS for out-of-process workers. A
// circuit breaker sheds load while the queue endpoint is unhealthy so start
// requests fail fast instead of stacking up.
type SQSDispatcher struct {
	client   *sqs.Client
	queueURL string
	cb       circuitbreaker.CircuitBreaker[any]
}

// NewSQSDispatcher constructs an SQS-backed dispatcher.
func NewSQSDispatcher(ctx context.Context, region, queueURL string) (*SQSDispatcher, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	if strings.TrimSpace(region) == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			telemetry.Warn("handoff circuit breaker state changed", map[string]any{
				"from": e.OldState.String(),
				"to":   e.NewState.String(),
			})
		}).
		Build()

	return &SQSDispatcher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		cb:       cb,
	}, nil
}

// Dispatch delivers one handoff to the configured queue.
func (d *SQSDispatcher) Dispatch(ctx context.Context, h Handoff) error {
	payload, err := EncodeHandoff(h)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}

	if !d.cb.TryAcquirePermit() {
		return fmt.Errorf("handoff dispatch: %w", circuitbreaker.ErrOpen)
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		d.cb.RecordError(err)
		return fmt.Errorf("sqs send handoff: %w", err)
	}
	d.cb.RecordSuccess()
	return nil
}

var _ Dispatcher = (*SQSDispatcher)(nil)
