// Package telemetry ships gate analytics events and access metrics to AWS.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"flui/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSGatePublisher sends each gate event as a JSON message to the analytics
// queue. The event type is copied into a message attribute so consumers can
// filter without decoding the body.
type SQSGatePublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

var _ types.GateEventPublisher = (*SQSGatePublisher)(nil)

// NewSQSGatePublisher creates a publisher targeting queueURL.
func NewSQSGatePublisher(client SQSSender, queueURL string, logger types.Logger) *SQSGatePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSGatePublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishGateEvent implements types.GateEventPublisher.
func (p *SQSGatePublisher) PublishGateEvent(ctx context.Context, event types.GateEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("gate publisher: failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("gate publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("gate event published",
		"event_id", event.ID,
		"event_type", string(event.Type),
		"account_id", event.AccountID,
		"feature", string(event.Context.Feature),
	)
	return nil
}

// LogGatePublisher writes gate events to the log. It is used when no
// analytics queue is configured.
type LogGatePublisher struct {
	logger *slog.Logger
}

var _ types.GateEventPublisher = (*LogGatePublisher)(nil)

// NewLogGatePublisher creates a LogGatePublisher.
func NewLogGatePublisher(logger *slog.Logger) *LogGatePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGatePublisher{logger: logger}
}

// PublishGateEvent implements types.GateEventPublisher.
func (p *LogGatePublisher) PublishGateEvent(ctx context.Context, event types.GateEvent) error {
	p.logger.InfoContext(ctx, "gate event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("account_id", event.AccountID),
		slog.String("feature", string(event.Context.Feature)),
		slog.String("trigger", string(event.Context.TriggerType)),
		slog.String("current_plan", string(event.Context.CurrentPlan)),
		slog.String("target_tier", string(event.TargetTier)),
		slog.String("package_id", event.PackageID),
	)
	return nil
}
