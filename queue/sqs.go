package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

const (
	attrReceiveCount  = string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)
	attrSentTimestamp = string(sqstypes.MessageSystemAttributeNameSentTimestamp)
)

// SQS is a Client backed by Amazon SQS.
type SQS struct {
	client sqsAPI

	// extra time granted to a receive call beyond its long-poll wait
	receiveSlack time.Duration
}

// NewSQS wraps an SQS API client (normally *sqs.Client).
func NewSQS(client sqsAPI) *SQS {
	if client == nil {
		panic("sqs client is required")
	}
	return &SQS{client: client, receiveSlack: 5 * time.Second}
}

// ResolveURL returns nameOrURL unchanged when it already is a URL and looks
// the queue up by name otherwise.
func (s *SQS) ResolveURL(ctx context.Context, nameOrURL string) (string, error) {
	if nameOrURL == "" {
		return "", &TransportError{Op: "resolve", Err: errors.New("empty queue name")}
	}
	if isURL(nameOrURL) {
		return nameOrURL, nil
	}

	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(nameOrURL)})
	if err != nil {
		var nf *sqstypes.QueueDoesNotExist
		if errors.As(err, &nf) {
			return "", &TransportError{Op: "resolve", Queue: nameOrURL, Err: errors.Join(ErrQueueNotFound, err)}
		}
		return "", transportErr("resolve", nameOrURL, err)
	}
	url := aws.ToString(out.QueueUrl)
	if url == "" {
		return "", &TransportError{Op: "resolve", Queue: nameOrURL, Err: ErrQueueNotFound}
	}
	return url, nil
}

func (s *SQS) ReceiveBatch(ctx context.Context, queueURL string, opts ReceiveOptions) ([]Envelope, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.WaitSeconds)*time.Second+s.receiveSlack)
	defer cancel()

	out, err := s.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   opts.MaxMessages,
		WaitTimeSeconds:       opts.WaitSeconds,
		VisibilityTimeout:     opts.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, transportErr("receive", queueURL, err)
	}

	envs := make([]Envelope, 0, len(out.Messages))
	for i := range out.Messages {
		envs = append(envs, toEnvelope(&out.Messages[i]))
	}
	return envs, nil
}

func toEnvelope(m *sqstypes.Message) Envelope {
	env := Envelope{
		ID:            aws.ToString(m.MessageId),
		Body:          aws.ToString(m.Body),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
	}
	if len(m.MessageAttributes) > 0 {
		env.Attributes = make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			// binary attributes carry no string form
			if v.StringValue != nil {
				env.Attributes[k] = *v.StringValue
			}
		}
	}
	if rc, ok := m.Attributes[attrReceiveCount]; ok {
		if n, err := strconv.Atoi(rc); err == nil {
			env.ReceiveCount = n
		}
	}
	if ts, ok := m.Attributes[attrSentTimestamp]; ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			env.SentAt = time.UnixMilli(ms)
		}
	}
	return env
}

func (s *SQS) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return transportErr("delete", queueURL, err)
}

// DeleteBatch deletes in chunks of MaxBatchSize. It stops at the first
// failed call or failed entry.
func (s *SQS) DeleteBatch(ctx context.Context, queueURL string, acks []Ack) error {
	if len(acks) == 0 {
		return nil
	}

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, MaxBatchSize)
	in := sqs.DeleteMessageBatchInput{QueueUrl: aws.String(queueURL)}

	return chunks(len(acks), MaxBatchSize, func(start, end int) error {
		entries = entries[:0]
		for j := start; j < end; j++ {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            &acks[j].ID,
				ReceiptHandle: &acks[j].Handle,
			})
		}

		in.Entries = entries
		out, err := s.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return transportErr("delete batch", queueURL, err)
		}
		if len(out.Failed) > 0 {
			return transportErr("delete batch", queueURL, entryError(out.Failed[0]))
		}
		return nil
	})
}

func (s *SQS) ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeoutSeconds int32) error {
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: timeoutSeconds,
	})
	return transportErr("change visibility", queueURL, err)
}

func (s *SQS) ChangeVisibilityBatch(ctx context.Context, queueURL string, acks []Ack, timeoutSeconds int32) error {
	if len(acks) == 0 {
		return nil
	}

	in := sqs.ChangeMessageVisibilityBatchInput{QueueUrl: aws.String(queueURL)}
	entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, MaxBatchSize)

	return chunks(len(acks), MaxBatchSize, func(start, end int) error {
		entries = entries[:0]
		for j := start; j < end; j++ {
			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                &acks[j].ID,
				ReceiptHandle:     &acks[j].Handle,
				VisibilityTimeout: timeoutSeconds,
			})
		}

		in.Entries = entries
		out, err := s.client.ChangeMessageVisibilityBatch(ctx, &in)
		if err != nil {
			return transportErr("change visibility batch", queueURL, err)
		}
		if len(out.Failed) > 0 {
			return transportErr("change visibility batch", queueURL, entryError(out.Failed[0]))
		}
		return nil
	})
}

func (s *SQS) Send(ctx context.Context, queueURL string, msg OutgoingMessage) (string, error) {
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(msg.Body),
		MessageAttributes: toAttributeValues(msg.Attributes),
	}
	if msg.DelaySeconds != nil {
		in.DelaySeconds = *msg.DelaySeconds
	}

	out, err := s.client.SendMessage(ctx, in)
	if err != nil {
		return "", transportErr("send", queueURL, err)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBatch sends msgs in calls of at most MaxBatchSize entries. A failed
// call aborts the remaining chunks; the result holds what was sent so far.
func (s *SQS) SendBatch(ctx context.Context, queueURL string, msgs []OutgoingMessage) (SendResult, error) {
	var res SendResult
	if len(msgs) == 0 {
		return res, nil
	}

	in := sqs.SendMessageBatchInput{QueueUrl: aws.String(queueURL)}

	err := chunks(len(msgs), MaxBatchSize, func(start, end int) error {
		entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, end-start)
		for j := start; j < end; j++ {
			id := msgs[j].ID
			if id == "" {
				id = strconv.Itoa(j)
			}
			e := sqstypes.SendMessageBatchRequestEntry{
				Id:                aws.String(id),
				MessageBody:       aws.String(msgs[j].Body),
				MessageAttributes: toAttributeValues(msgs[j].Attributes),
			}
			if msgs[j].DelaySeconds != nil {
				e.DelaySeconds = *msgs[j].DelaySeconds
			}
			entries = append(entries, e)
		}

		in.Entries = entries
		out, err := s.client.SendMessageBatch(ctx, &in)
		if err != nil {
			return transportErr("send batch", queueURL, err)
		}
		for _, ok := range out.Successful {
			res.Successful = append(res.Successful, SendSuccess{
				ID:        aws.ToString(ok.Id),
				MessageID: aws.ToString(ok.MessageId),
			})
		}
		for _, f := range out.Failed {
			res.Failed = append(res.Failed, entryError(f))
		}
		return nil
	})
	return res, err
}

func entryError(f sqstypes.BatchResultErrorEntry) BatchEntryError {
	return BatchEntryError{
		ID:          aws.ToString(f.Id),
		Code:        aws.ToString(f.Code),
		Message:     aws.ToString(f.Message),
		SenderFault: f.SenderFault,
	}
}

func toAttributeValues(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
