package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type payoutMessage struct {
	IntentID string `json:"intent_id"`
}

type SQS struct {
	client   SQSAPI
	queueURL string
	log      *slog.Logger
}

func NewSQS(client SQSAPI, queueURL string, log *slog.Logger) *SQS {
	return &SQS{client: client, queueURL: queueURL, log: log.With("component", "payout_queue")}
}

func (q *SQS) Dispatch(ctx context.Context, intentID string) error {
	body, err := json.Marshal(payoutMessage{IntentID: intentID})
	if err != nil {
		return err
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		q.log.Error("Failed to enqueue payout", "intent_id", intentID, "error", err)
		return fmt.Errorf("failed to enqueue payout for %s: %w", intentID, err)
	}
	q.log.Info("Payout enqueued", "intent_id", intentID, "message_id", aws.ToString(out.MessageId))
	return ErrDeferred
}

// Consumer long-polls the payout queue. A message is deleted once the
// handler succeeds or fails permanently; retryable failures are left for
// SQS to redeliver after the visibility timeout.
type Consumer struct {
	client    SQSAPI
	queueURL  string
	handler   Handler
	retryable func(error) bool
	errDelay  time.Duration
	log       *slog.Logger
}

func NewConsumer(client SQSAPI, queueURL string, handler Handler, retryable func(error) bool, log *slog.Logger) *Consumer {
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		handler:   handler,
		retryable: retryable,
		errDelay:  5 * time.Second,
		log:       log.With("component", "payout_consumer"),
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("Payout consumer started", "queue_url", c.queueURL)
	for {
		if ctx.Err() != nil {
			c.log.Info("Payout consumer stopped")
			return
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("Error receiving payout messages", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.errDelay):
			}
			continue
		}
		for _, msg := range out.Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	id := aws.ToString(msg.MessageId)

	var m payoutMessage
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &m); err != nil || m.IntentID == "" {
		c.log.Error("Discarding unreadable payout message", "message_id", id, "error", err)
		c.delete(ctx, msg)
		return
	}

	if err := c.handler(ctx, m.IntentID); err != nil {
		if c.retryable != nil && c.retryable(err) {
			c.log.Warn("Payout will be retried", "intent_id", m.IntentID, "message_id", id, "error", err)
			return
		}
		c.log.Error("Payout failed permanently", "intent_id", m.IntentID, "message_id", id, "error", err)
	}
	c.delete(ctx, msg)
}

func (c *Consumer) delete(ctx context.Context, msg types.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.log.Error("Error deleting payout message", "message_id", aws.ToString(msg.MessageId), "error", err)
	}
}
