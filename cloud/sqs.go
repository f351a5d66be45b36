package cloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"abbey/event"
)

// SQSAPI is the subset of the SQS client abbey calls.
type SQSAPI interface {
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

// MaxBatch is the largest receive batch SQS allows.
const MaxBatch = 10

// SQS is the progress channel between the build instance and abbey. The
// queue handle is the queue URL.
type SQS struct {
	api SQSAPI
}

func NewSQS(api SQSAPI) *SQS {
	return &SQS{api: api}
}

func (q *SQS) Create(ctx context.Context, name string) (string, error) {
	out, err := q.api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create queue %s: %w", name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

// Receive returns whatever is immediately available, never waiting.
func (q *SQS) Receive(ctx context.Context, handle string) ([]event.RawEvent, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(handle),
		MaxNumberOfMessages: MaxBatch,
		WaitTimeSeconds:     0,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameSentTimestamp,
			sqstypes.MessageSystemAttributeNameApproximateFirstReceiveTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	raws := make([]event.RawEvent, 0, len(out.Messages))
	for _, m := range out.Messages {
		raws = append(raws, toRaw(m))
	}
	return raws, nil
}

func toRaw(m sqstypes.Message) event.RawEvent {
	return event.RawEvent{
		ID:         aws.ToString(m.MessageId),
		Handle:     aws.ToString(m.ReceiptHandle),
		SentAt:     millis(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]),
		ReceivedAt: millis(m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateFirstReceiveTimestamp)]),
		Body:       []byte(aws.ToString(m.Body)),
	}
}

// millis parses an epoch-milliseconds attribute; garbage yields the zero time.
func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (q *SQS) Delete(ctx context.Context, handle string, raw event.RawEvent) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(handle),
		ReceiptHandle: aws.String(raw.Handle),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", raw.ID, err)
	}
	return nil
}

func (q *SQS) Destroy(ctx context.Context, handle string) error {
	if _, err := q.api.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(handle)}); err != nil {
		return fmt.Errorf("delete queue %s: %w", handle, err)
	}
	return nil
}
