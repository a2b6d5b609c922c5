// Package sqs publishes job messages to Amazon SQS queues, each with a
// redrive policy onto a shared dead-letter queue.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
)

// BackendName identifies this backend in handles, acks and audit records.
const BackendName = "sqs"

// MessageType is sent as the "type" message attribute.
const MessageType = "module-run-message"

// maxReceiveCount is the number of receives before SQS dead-letters a message.
const maxReceiveCount = 1

// API is the subset of the SQS client used by the publisher.
type API interface {
	CreateQueue(ctx context.Context, in *awssqs.CreateQueueInput, optFns ...func(*awssqs.Options)) (*awssqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, in *awssqs.GetQueueAttributesInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

// Options configures a Publisher.
type Options struct {
	Region            string
	Endpoint          string
	Prefix            string
	VisibilityTimeout time.Duration
	Retrier           *queue.Retrier
	Logger            *slog.Logger
}

// Publisher is the SQS queue.Publisher.
type Publisher struct {
	api     API
	opts    Options
	logger  *slog.Logger
	retrier *queue.Retrier
	cache   *queue.ProvisionCache

	dlqMu  sync.Mutex
	dlqARN string
}

var _ queue.Publisher = (*Publisher)(nil)

// New loads the default AWS configuration and returns a Publisher. If
// opts.Endpoint is set it overrides the service endpoint (ElasticMQ,
// LocalStack).
func New(ctx context.Context, opts Options) (*Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var sqsOpts []func(*awssqs.Options)
	if opts.Endpoint != "" {
		sqsOpts = append(sqsOpts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	return NewWithAPI(awssqs.NewFromConfig(cfg, sqsOpts...), opts), nil
}

// NewWithAPI returns a Publisher using api.
func NewWithAPI(api API, opts Options) *Publisher {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retrier := opts.Retrier
	if retrier == nil {
		retrier = queue.NewRetrier(0, 0, queue.DefaultMaxAttempts, logger)
	}
	p := &Publisher{api: api, opts: opts, logger: logger, retrier: retrier}
	p.cache = queue.NewProvisionCache(p.provision)
	return p
}

// Name implements queue.Publisher.
func (p *Publisher) Name() string { return BackendName }

// Provision implements queue.Publisher.
func (p *Publisher) Provision(ctx context.Context, target queue.Target) (queue.Handle, error) {
	return p.cache.Get(ctx, target)
}

func (p *Publisher) provision(ctx context.Context, target queue.Target) (queue.Handle, error) {
	dlq, err := p.deadLetterARN(ctx)
	if err != nil {
		return queue.Handle{}, err
	}

	redrive, err := json.Marshal(map[string]string{
		"maxReceiveCount":     strconv.Itoa(maxReceiveCount),
		"deadLetterTargetArn": dlq,
	})
	if err != nil {
		return queue.Handle{}, fmt.Errorf("sqs: encoding redrive policy: %w", err)
	}

	name := target.QueueName(p.opts.Prefix)
	out, err := p.api.CreateQueue(ctx, &awssqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			string(types.QueueAttributeNameDelaySeconds):      "0",
			string(types.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(p.opts.VisibilityTimeout.Seconds())),
			string(types.QueueAttributeNameRedrivePolicy):     string(redrive),
		},
	})
	if err != nil {
		return queue.Handle{}, fmt.Errorf("sqs: create queue %s: %w", name, err)
	}

	p.logger.Info("sqs: queue ready", "queue", name, "url", aws.ToString(out.QueueUrl))
	return queue.Handle{Backend: BackendName, Name: name, Ref: aws.ToString(out.QueueUrl)}, nil
}

// deadLetterARN creates the shared dead-letter queue once and returns its ARN.
func (p *Publisher) deadLetterARN(ctx context.Context) (string, error) {
	p.dlqMu.Lock()
	defer p.dlqMu.Unlock()
	if p.dlqARN != "" {
		return p.dlqARN, nil
	}

	name := queue.DeadLetterQueueName(p.opts.Prefix)
	created, err := p.api.CreateQueue(ctx, &awssqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("sqs: create dead-letter queue %s: %w", name, err)
	}
	attrs, err := p.api.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       created.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("sqs: read dead-letter queue arn: %w", err)
	}
	arn := attrs.Attributes[string(types.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", fmt.Errorf("sqs: dead-letter queue %s has no arn", name)
	}
	p.dlqARN = arn
	return arn, nil
}

// Publish implements queue.Publisher.
func (p *Publisher) Publish(ctx context.Context, h queue.Handle, msg model.JobMessage) (queue.Ack, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return queue.Ack{}, queue.Permanent(fmt.Errorf("sqs: encoding job %s: %w", msg.JobID, err))
	}

	in := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(h.Ref),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(MessageType)},
		},
	}

	var out *awssqs.SendMessageOutput
	attempts, err := p.retrier.Do(ctx, "sqs send to "+h.Name, func(ctx context.Context) error {
		var sendErr error
		out, sendErr = p.api.SendMessage(ctx, in)
		return sendErr
	})
	if err != nil {
		return queue.Ack{}, err
	}
	return queue.Ack{
		Backend:   BackendName,
		Queue:     h.Name,
		MessageID: aws.ToString(out.MessageId),
		Attempts:  attempts,
	}, nil
}

// Close implements queue.Publisher. The SDK client holds no connection that
// needs releasing.
func (p *Publisher) Close() error { return nil }
