package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// SQSAPI is the subset of the SQS client used by the queue dispatcher and
// its consumer.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Job is one queued notification.
type Job struct {
	Kind       string                `json:"kind"`
	Booking    booking.Booking       `json:"booking"`
	Therapist  *therapists.Therapist `json:"therapist,omitempty"`
	Deadline   *time.Time            `json:"deadline,omitempty"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

// Deliver hands the job to d.
func (j Job) Deliver(ctx context.Context, d Dispatcher) error {
	b := j.Booking
	switch j.Kind {
	case KindTherapistRequest:
		if j.Therapist == nil || j.Deadline == nil {
			return fmt.Errorf("notify: job %s: therapist and deadline required", j.Kind)
		}
		return d.SendTherapistRequest(ctx, &b, j.Therapist, *j.Deadline)
	case KindClientAlternateSearch:
		return d.SendClientAlternateSearch(ctx, &b)
	case KindClientConfirmed:
		if j.Therapist == nil {
			return fmt.Errorf("notify: job %s: therapist required", j.Kind)
		}
		return d.SendClientConfirmed(ctx, &b, j.Therapist)
	case KindTherapistConfirmed:
		if j.Therapist == nil {
			return fmt.Errorf("notify: job %s: therapist required", j.Kind)
		}
		return d.SendTherapistConfirmed(ctx, &b, j.Therapist)
	case KindClientDeclined:
		return d.SendClientDeclined(ctx, &b)
	default:
		return fmt.Errorf("notify: unknown job kind %q", j.Kind)
	}
}

// QueueDispatcher enqueues notifications on SQS for the notify worker.
type QueueDispatcher struct {
	client   SQSAPI
	queueURL string
	now      func() time.Time
}

// NewQueueDispatcher creates a dispatcher around the provided SQS client.
func NewQueueDispatcher(client SQSAPI, queueURL string) *QueueDispatcher {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &QueueDispatcher{client: client, queueURL: queueURL, now: time.Now}
}

var _ Dispatcher = (*QueueDispatcher)(nil)

func (q *QueueDispatcher) SendTherapistRequest(ctx context.Context, b *booking.Booking, t *therapists.Therapist, deadline time.Time) error {
	return q.enqueue(ctx, KindTherapistRequest, b, t, &deadline)
}

func (q *QueueDispatcher) SendClientAlternateSearch(ctx context.Context, b *booking.Booking) error {
	return q.enqueue(ctx, KindClientAlternateSearch, b, nil, nil)
}

func (q *QueueDispatcher) SendClientConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	return q.enqueue(ctx, KindClientConfirmed, b, t, nil)
}

func (q *QueueDispatcher) SendTherapistConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	return q.enqueue(ctx, KindTherapistConfirmed, b, t, nil)
}

func (q *QueueDispatcher) SendClientDeclined(ctx context.Context, b *booking.Booking) error {
	return q.enqueue(ctx, KindClientDeclined, b, nil, nil)
}

func (q *QueueDispatcher) enqueue(ctx context.Context, kind string, b *booking.Booking, t *therapists.Therapist, deadline *time.Time) error {
	if b == nil {
		return fmt.Errorf("notify: enqueue %s: booking required", kind)
	}
	body, err := json.Marshal(Job{Kind: kind, Booking: *b, Therapist: t, Deadline: deadline, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("notify: encode job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w: %w", booking.ErrUpstream, err)
	}
	return nil
}

// DefaultMaxReceives is how many times a failing job is received before the
// consumer drops it.
const DefaultMaxReceives = 5

// Consumer drains the notification queue into a Dispatcher. A message is
// deleted once it reached the recipient on any channel. Jobs that failed on
// every channel are redelivered by SQS once the visibility timeout lapses,
// up to maxReceives receives.
type Consumer struct {
	client      SQSAPI
	queueURL    string
	target      Dispatcher
	logger      *logging.Logger
	maxMessages int
	waitSeconds int
	maxReceives int
	errorDelay  time.Duration
}

func NewConsumer(client SQSAPI, queueURL string, target Dispatcher, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		target:      target,
		logger:      logger,
		maxMessages: 10,
		waitSeconds: 20,
		maxReceives: DefaultMaxReceives,
		errorDelay:  5 * time.Second,
	}
}

func (c *Consumer) WithMaxMessages(n int) *Consumer {
	if n > 0 && n <= 10 {
		c.maxMessages = n
	}
	return c
}

func (c *Consumer) WithWaitSeconds(n int) *Consumer {
	if n >= 0 && n <= 20 {
		c.waitSeconds = n
	}
	return c
}

// WithMaxReceives caps how many times a job that keeps failing is received.
func (c *Consumer) WithMaxReceives(n int) *Consumer {
	if n > 0 {
		c.maxReceives = n
	}
	return c
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("notify: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.errorDelay):
			}
		}
	}
}

// Poll receives one batch and returns how many messages were delivered.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(c.maxMessages),
		WaitTimeSeconds:     int32(c.waitSeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("notify: failed to receive SQS messages: %w", err)
	}

	delivered := 0
	for _, msg := range out.Messages {
		id := aws.ToString(msg.MessageId)
		var job Job
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			// Unparseable jobs would redeliver forever.
			c.logger.Error("notify: dropping malformed job", "message_id", id, "error", err)
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}
		err := job.Deliver(ctx, c.target)
		switch {
		case err == nil:
		case PartiallyDelivered(err):
			// Redelivery would repeat the channels that already went out.
			c.logger.Warn("notify: delivered on some channels only", "message_id", id, "kind", job.Kind, "booking_id", job.Booking.ID, "error", err)
		case receiveCount(msg) >= c.maxReceives:
			c.logger.Error("notify: dropping job after repeated failures", "message_id", id, "kind", job.Kind, "booking_id", job.Booking.ID, "receives", receiveCount(msg), "error", err)
			c.delete(ctx, msg.ReceiptHandle)
			continue
		default:
			c.logger.Warn("notify: delivery failed, leaving for redelivery", "message_id", id, "kind", job.Kind, "booking_id", job.Booking.ID, "error", err)
			continue
		}
		c.delete(ctx, msg.ReceiptHandle)
		delivered++
	}
	return delivered, nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	if aws.ToString(receiptHandle) == "" {
		return
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("notify: failed to delete SQS message", "error", err)
	}
}

// receiveCount reads the ApproximateReceiveCount system attribute, or 0 when
// SQS did not return it.
func receiveCount(msg types.Message) int {
	n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 0
	}
	return n
}
