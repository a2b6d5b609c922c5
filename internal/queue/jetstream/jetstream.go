// Package jetstream publishes job messages to NATS JetStream work-queue
// streams. Each target gets its own stream and durable worker consumer;
// messages that exhaust their deliveries are recorded in a shared
// dead-letter stream through the server's max-deliveries advisories.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
)

// BackendName identifies this backend in handles, acks and audit records.
const BackendName = "jetstream"

// Headers stamped on every published job.
const (
	HeaderAppID = "App-Id"
	HeaderType  = "Type"

	AppID       = "event-broker"
	MessageType = "module-run-message"
)

// WorkerConsumer is the durable consumer workers pull jobs from.
const WorkerConsumer = "workers"

// maxDeliver matches the SQS redrive policy (maxReceiveCount 1): a job that
// is not acked on its first delivery is dead-lettered.
const maxDeliver = 1

const maxDeliveriesAdvisory = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES."

// Options configures a Publisher.
type Options struct {
	// URL is dialled lazily on first use unless Conn is set.
	URL string
	// Conn reuses an existing connection. The publisher never closes it.
	Conn    *nats.Conn
	Prefix  string
	AckWait time.Duration
	Retrier *queue.Retrier
	Logger  *slog.Logger
}

// Publisher is the JetStream queue.Publisher.
type Publisher struct {
	opts    Options
	logger  *slog.Logger
	retrier *queue.Retrier
	cache   *queue.ProvisionCache

	mu    sync.Mutex
	nc    *nats.Conn
	js    jetstream.JetStream
	owned bool

	dlqMu sync.Mutex
}

var _ queue.Publisher = (*Publisher)(nil)

// New returns a Publisher. No connection is made until the first Provision
// or Publish.
func New(opts Options) *Publisher {
	if opts.AckWait <= 0 {
		opts.AckWait = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retrier := opts.Retrier
	if retrier == nil {
		retrier = queue.NewRetrier(0, 0, queue.DefaultMaxAttempts, logger)
	}
	p := &Publisher{opts: opts, logger: logger, retrier: retrier}
	p.cache = queue.NewProvisionCache(p.provision)
	return p
}

// Name implements queue.Publisher.
func (p *Publisher) Name() string { return BackendName }

func (p *Publisher) jetStream() (jetstream.JetStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js != nil {
		return p.js, nil
	}

	nc := p.opts.Conn
	if nc == nil {
		var err error
		nc, err = nats.Connect(p.opts.URL,
			nats.Name(AppID),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS at %s: %w", p.opts.URL, err)
		}
		p.owned = true
	}

	js, err := jetstream.New(nc)
	if err != nil {
		if p.owned {
			nc.Close()
			p.owned = false
		}
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	p.nc, p.js = nc, js
	return js, nil
}

// StreamName returns the stream backing target.
func (p *Publisher) StreamName(target queue.Target) string {
	return streamName(target.QueueName(p.opts.Prefix))
}

// Subject returns the subject jobs for target are published on.
func (p *Publisher) Subject(target queue.Target) string {
	return subjectToken(p.opts.Prefix+"run_module") + "." + subjectToken(target.Surface) + "." + subjectToken(target.ApplicationID)
}

// DeadLetterStream returns the name of the shared dead-letter stream.
func (p *Publisher) DeadLetterStream() string {
	return streamName(queue.DeadLetterQueueName(p.opts.Prefix))
}

// Provision implements queue.Publisher.
func (p *Publisher) Provision(ctx context.Context, target queue.Target) (queue.Handle, error) {
	return p.cache.Get(ctx, target)
}

func (p *Publisher) provision(ctx context.Context, target queue.Target) (queue.Handle, error) {
	js, err := p.jetStream()
	if err != nil {
		return queue.Handle{}, err
	}

	name := p.StreamName(target)
	subject := p.Subject(target)
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return queue.Handle{}, fmt.Errorf("jetstream: create stream %s: %w", name, err)
	}

	if _, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    WorkerConsumer,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    p.opts.AckWait,
		MaxDeliver: maxDeliver,
	}); err != nil {
		return queue.Handle{}, fmt.Errorf("jetstream: create consumer on %s: %w", name, err)
	}

	if err := p.attachDeadLetter(ctx, js, name); err != nil {
		return queue.Handle{}, err
	}

	p.logger.Info("jetstream: stream ready", "stream", name, "subject", subject)
	return queue.Handle{Backend: BackendName, Name: name, Ref: subject}, nil
}

// attachDeadLetter adds the max-deliveries advisory subject of stream's
// worker consumer to the dead-letter stream, creating it on first use.
func (p *Publisher) attachDeadLetter(ctx context.Context, js jetstream.JetStream, stream string) error {
	p.dlqMu.Lock()
	defer p.dlqMu.Unlock()

	dlq := p.DeadLetterStream()
	advisory := maxDeliveriesAdvisory + stream + "." + WorkerConsumer

	existing, err := js.Stream(ctx, dlq)
	switch {
	case errors.Is(err, jetstream.ErrStreamNotFound):
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      dlq,
			Subjects:  []string{advisory},
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("jetstream: create dead-letter stream %s: %w", dlq, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("jetstream: look up dead-letter stream %s: %w", dlq, err)
	}

	cfg := existing.CachedInfo().Config
	if slices.Contains(cfg.Subjects, advisory) {
		return nil
	}
	cfg.Subjects = append(cfg.Subjects, advisory)
	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("jetstream: update dead-letter stream %s: %w", dlq, err)
	}
	return nil
}

// Publish implements queue.Publisher. The job id is used as the JetStream
// message id so a retried publish is de-duplicated by the server.
func (p *Publisher) Publish(ctx context.Context, h queue.Handle, msg model.JobMessage) (queue.Ack, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return queue.Ack{}, queue.Permanent(fmt.Errorf("jetstream: encoding job %s: %w", msg.JobID, err))
	}

	var (
		pubAck *jetstream.PubAck
		opts   []jetstream.PublishOpt
	)
	if msg.JobID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.JobID))
	}

	attempts, err := p.retrier.Do(ctx, "jetstream publish to "+h.Name, func(ctx context.Context) error {
		js, err := p.jetStream()
		if err != nil {
			return err
		}
		out := nats.NewMsg(h.Ref)
		out.Data = data
		out.Header.Set(HeaderAppID, AppID)
		out.Header.Set(HeaderType, MessageType)
		pubAck, err = js.PublishMsg(ctx, out, opts...)
		return err
	})
	if err != nil {
		return queue.Ack{}, err
	}
	return queue.Ack{
		Backend:   BackendName,
		Queue:     h.Name,
		MessageID: pubAck.Stream + ":" + strconv.FormatUint(pubAck.Sequence, 10),
		Attempts:  attempts,
	}, nil
}

// Close drains the connection if this publisher opened it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc == nil || !p.owned {
		return nil
	}
	err := p.nc.Drain()
	p.nc, p.js, p.owned = nil, nil, false
	return err
}

// streamName maps a queue name onto the characters allowed in stream names.
func streamName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// subjectToken strips subject separators and wildcards from s.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
