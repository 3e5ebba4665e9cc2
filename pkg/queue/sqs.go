package queue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS batch and long-poll limits.
const (
	sqsMaxBatch = 10
	sqsMaxWait  = 20 * time.Second
	sqsMaxLease = 12 * time.Hour
)

// SQSClient is the subset of the SQS API the queue uses.
type SQSClient interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQS is a Queue backed by an Amazon SQS standard queue. Bodies are base64
// encoded since SQS only carries text.
type SQS struct {
	client SQSClient
	url    string
}

// NewSQS resolves the URL of the named queue.
func NewSQS(ctx context.Context, client SQSClient, name string) (*SQS, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("resolve queue %s: %w", name, err)
	}
	return &SQS{client: client, url: aws.ToString(out.QueueUrl)}, nil
}

// URL returns the queue URL.
func (q *SQS) URL() string { return q.url }

func (q *SQS) Push(ctx context.Context, bodies ...[]byte) error {
	for start := 0; start < len(bodies); start += sqsMaxBatch {
		end := start + sqsMaxBatch
		if end > len(bodies) {
			end = len(bodies)
		}
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, b := range bodies[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(base64.StdEncoding.EncodeToString(b)),
			})
		}
		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("send message batch: %w", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("send message batch: %d of %d failed: %s: %s",
				len(out.Failed), len(entries), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

func (q *SQS) Pop(ctx context.Context, max int, lease, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	if max > sqsMaxBatch {
		max = sqsMaxBatch
	}
	if wait > sqsMaxWait {
		wait = sqsMaxWait
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         int32(max),
		VisibilityTimeout:           seconds(lease),
		WaitTimeSeconds:             seconds(wait),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		body, err := base64.StdEncoding.DecodeString(aws.ToString(m.Body))
		if err != nil {
			// Keep the raw body; the decoder rejects it and the worker drops it.
			body = []byte(aws.ToString(m.Body))
		}
		n, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, Message{
			ID:         aws.ToString(m.MessageId),
			Body:       body,
			Receipt:    aws.ToString(m.ReceiptHandle),
			Deliveries: n,
		})
	}
	return msgs, nil
}

func (q *SQS) Ack(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		if isReceiptError(err) {
			return ErrLeaseNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (q *SQS) Extend(ctx context.Context, receipt string, d time.Duration) error {
	if d > sqsMaxLease {
		d = sqsMaxLease
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: seconds(d),
	})
	if err != nil {
		if isReceiptError(err) {
			return ErrLeaseNotFound
		}
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

func (q *SQS) Purge(ctx context.Context) error {
	if _, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.url)}); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}

func (q *SQS) Stats(ctx context.Context) (Stats, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("get queue attributes: %w", err)
	}
	visible, _ := strconv.ParseInt(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], 10, 64)
	inFlight, _ := strconv.ParseInt(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)], 10, 64)
	return Stats{Visible: visible, InFlight: inFlight}, nil
}

func (q *SQS) Close() error { return nil }

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	s := int32((d + time.Second - 1) / time.Second)
	return s
}

func isReceiptError(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var notInFlight *types.MessageNotInflight
	return errors.As(err, &notInFlight)
}
