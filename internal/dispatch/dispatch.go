// Package dispatch turns an application event into module jobs and fans
// them out to every configured queue backend.
//
// A dispatch moves through Received, Resolving, then either NoWork or
// BuildingJobs and Publishing, and ends in Done or Failed. With a watchdog
// configured it also waits in AwaitingJobs until every job is acknowledged
// or has timed out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/eventbroker/internal/idgen"
	"github.com/alfredjeanlab/eventbroker/internal/job"
	"github.com/alfredjeanlab/eventbroker/internal/jobctx"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
	"github.com/alfredjeanlab/eventbroker/internal/settings"
	"github.com/alfredjeanlab/eventbroker/internal/store"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

var (
	// ErrDependencyLookupFailed means a mandatory store lookup failed or
	// found nothing.
	ErrDependencyLookupFailed = jobctx.ErrDependencyLookupFailed
	// ErrProvisioningFailure means a backend could not provision the queue.
	ErrProvisioningFailure = errors.New("dispatch: queue provisioning failed")
	// ErrPublishFailed means at least one job was not accepted by a backend
	// after retrying.
	ErrPublishFailed = errors.New("dispatch: publish failed")
	// ErrInvalidEvent means the event is missing required fields.
	ErrInvalidEvent = errors.New("dispatch: invalid event")
)

// DefaultHeartbeatInterval is used when Config.HeartbeatInterval is zero.
const DefaultHeartbeatInterval = 30 * time.Second

// Notifier receives lifecycle notifications for every dispatch.
type Notifier interface {
	Heartbeat(ctx context.Context, ev model.Event)
	Processed(ctx context.Context, res Result)
	Failed(ctx context.Context, ev model.Event, err error)
}

// Config configures an Orchestrator.
type Config struct {
	Store      store.Store
	Publishers []queue.Publisher

	// Watchdog, when set, tracks each job from its first backend ack and holds the
	// dispatch open until each is retired.
	Watchdog *watchdog.Watchdog
	Notifier Notifier

	HeartbeatInterval time.Duration
	// Surface names the dispatch surface used for queue targets.
	// Default: queue.SurfaceApplicationEvent.
	Surface string
	// NewJobID overrides job id generation.
	NewJobID func() (string, error)

	Logger *slog.Logger
}

// Orchestrator dispatches events. It is safe for concurrent use; dispatches
// share only the store and the publishers.
type Orchestrator struct {
	store      store.Store
	publishers []queue.Publisher
	watchdog   *watchdog.Watchdog
	notifier   Notifier
	heartbeat  time.Duration
	surface    string
	builder    *jobctx.Builder
	factory    job.Factory
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Surface == "" {
		cfg.Surface = queue.SurfaceApplicationEvent
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Orchestrator{
		store:      cfg.Store,
		publishers: cfg.Publishers,
		watchdog:   cfg.Watchdog,
		notifier:   notifier,
		heartbeat:  cfg.HeartbeatInterval,
		surface:    cfg.Surface,
		builder:    jobctx.NewBuilder(cfg.Store, logger),
		factory:    job.Factory{NewID: cfg.NewJobID},
		logger:     logger,
	}, nil
}

// Dispatch runs one dispatch to completion.
func (o *Orchestrator) Dispatch(ctx context.Context, ev model.Event) (Result, error) {
	r := o.Start(ctx, ev)
	<-r.Done()
	return r.Result(), r.Err()
}

// Start begins dispatching ev in the background and returns its Run.
func (o *Orchestrator) Start(ctx context.Context, ev model.Event) *Run {
	ev, idErr := normalize(ev)
	r := newRun(ev)
	go o.run(ctx, r, idErr)
	return r
}

// normalize fills in the default environment, a generated event id and the
// correlation id.
func normalize(ev model.Event) (model.Event, error) {
	ev.Environment = ev.EnvironmentOrDefault()
	if ev.EventID == "" {
		id, err := idgen.EventID()
		if err != nil {
			return ev, fmt.Errorf("generating event id: %w", err)
		}
		ev.EventID = id
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.EventID
	}
	return ev, nil
}

// outcomeSet records watchdog outcomes per job.
type outcomeSet struct {
	mu  sync.Mutex
	out map[string]string
}

func (s *outcomeSet) set(jobID string, o watchdog.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out[jobID] = o.String()
}

func (s *outcomeSet) get(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out[jobID]
}

func (o *Orchestrator) run(ctx context.Context, r *Run, idErr error) {
	ev := r.event
	logger := o.logger.With(
		"event_id", ev.EventID,
		"correlation_id", ev.CorrelationID,
		"application_id", ev.ApplicationID,
		"event", ev.EventName,
	)
	res := Result{Event: ev}
	stopBeat := func() {}

	fail := func(err error) {
		stopBeat()
		logger.Error("dispatch: event failed", "state", r.State().String(), "err", err)
		o.notifier.Failed(ctx, res.Event, err)
		r.finish(res, err)
	}

	r.setState(Received)
	if idErr != nil {
		fail(fmt.Errorf("%w: %w", ErrInvalidEvent, idErr))
		return
	}
	if err := ev.Validate(); err != nil {
		fail(fmt.Errorf("%w: %w", ErrInvalidEvent, err))
		return
	}
	o.audit(ctx, logger, ev, model.ExecutionLogEvent, "", "event "+ev.EventName+" started processing")

	r.setState(Resolving)
	app, org, err := o.builder.Load(ctx, ev.ApplicationID)
	if err != nil {
		fail(err)
		return
	}
	ev.OrganisationID = org.ID
	res.Event = ev

	modules, skipped, err := settings.ModulesForEvent(app, ev.Environment, ev.EventName)
	res.Skipped = skipped
	if len(skipped) > 0 {
		logger.Warn("dispatch: bound modules missing from catalogue, skipping", "modules", skipped)
	}
	switch {
	case errors.Is(err, settings.ErrConfigurationMissing):
		logger.Info("dispatch: no settings for environment", "environment", ev.Environment)
		o.complete(ctx, logger, r, res, true)
		return
	case err != nil:
		fail(err)
		return
	case len(modules) == 0:
		logger.Debug("dispatch: no modules bound to event")
		o.complete(ctx, logger, r, res, true)
		return
	}

	stopBeat = o.startHeartbeat(ctx, logger, r, ev)

	target := queue.Target{ApplicationID: ev.ApplicationID, Surface: o.surface}
	handles, err := o.provision(ctx, target)
	if err != nil {
		fail(err)
		return
	}

	r.setState(BuildingJobs)
	jc := o.builder.Build(ctx, ev, app, org)
	msgs := make([]model.JobMessage, 0, len(modules))
	for _, m := range modules {
		msg, err := o.factory.New(jc, m)
		if err != nil {
			fail(err)
			return
		}
		msgs = append(msgs, msg)
	}

	outcomes := &outcomeSet{out: make(map[string]string)}
	var ret *retirements
	var accepted func(model.JobMessage)
	if o.watchdog != nil {
		ret = newRetirements(outcomes)
		accepted = func(msg model.JobMessage) { o.track(ev, msg, ret) }
	}

	r.setState(Publishing)
	jobs, err := o.publish(ctx, logger, ev, msgs, handles, accepted)
	res.Jobs = jobs
	if err != nil {
		fail(err)
		return
	}

	if ret != nil {
		ret.release()
		r.setState(AwaitingJobs)
		select {
		case <-ret.done:
		case <-ctx.Done():
			fail(fmt.Errorf("waiting for jobs: %w", ctx.Err()))
			return
		}
		for i := range res.Jobs {
			res.Jobs[i].Outcome = outcomes.get(res.Jobs[i].JobID)
		}
	}

	stopBeat()
	o.complete(ctx, logger, r, res, false)
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, r *Run, res Result, noWork bool) {
	if noWork {
		r.setState(NoWork)
		res.NoWork = true
	}
	o.audit(ctx, logger, res.Event, model.ExecutionLogEvent, "", "event "+res.Event.EventName+" processed")
	logger.Info("dispatch: event processed", "jobs", len(res.Jobs), "no_work", noWork)
	o.notifier.Processed(ctx, res)
	r.finish(res, nil)
}

func (o *Orchestrator) startHeartbeat(ctx context.Context, logger *slog.Logger, r *Run, ev model.Event) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				logger.Debug("dispatch: heartbeat")
				r.beat(t)
				o.notifier.Heartbeat(ctx, ev)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}

// provision resolves the target on every backend before any job is
// published, so a provisioning failure leaves nothing half-sent.
func (o *Orchestrator) provision(ctx context.Context, target queue.Target) ([]queue.Handle, error) {
	handles := make([]queue.Handle, len(o.publishers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range o.publishers {
		g.Go(func() error {
			h, err := p.Provision(gctx, target)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrProvisioningFailure, p.Name(), err)
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

// retirements counts tracked jobs that are still outstanding. It starts
// with one reference held by the publish phase, so done cannot close while
// jobs are still being handed to backends.
type retirements struct {
	outstanding atomic.Int32
	outcomes    *outcomeSet
	done        chan struct{}
}

func newRetirements(outcomes *outcomeSet) *retirements {
	r := &retirements{outcomes: outcomes, done: make(chan struct{})}
	r.outstanding.Store(1)
	return r
}

func (r *retirements) release() {
	if r.outstanding.Add(-1) == 0 {
		close(r.done)
	}
}

// track registers msg with the watchdog once a backend has accepted it.
func (o *Orchestrator) track(ev model.Event, msg model.JobMessage, ret *retirements) {
	ret.outstanding.Add(1)
	o.watchdog.Track(watchdog.Job{
		JobID:         msg.JobID,
		EventID:       ev.EventID,
		CorrelationID: ev.CorrelationID,
		ApplicationID: ev.ApplicationID,
		EventName:     ev.EventName,
		ModuleName:    msg.ModuleName,
	}, func(out watchdog.Outcome) {
		ret.outcomes.set(msg.JobID, out)
		ret.release()
	})
}

// publish sends every job to every backend concurrently and waits for all
// of them to settle. accepted, if non-nil, is called once per job when the
// first backend acknowledges it.
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, ev model.Event, msgs []model.JobMessage, handles []queue.Handle, accepted func(model.JobMessage)) ([]JobResult, error) {
	jobs := make([]JobResult, len(msgs))
	acks := make([][]queue.Ack, len(msgs))
	first := make([]sync.Once, len(msgs))
	var mu sync.Mutex

	p := pool.New().WithErrors()
	for i, msg := range msgs {
		jobs[i] = JobResult{JobID: msg.JobID, ModuleName: msg.ModuleName}
		for b, pub := range o.publishers {
			p.Go(func() error {
				ack, err := pub.Publish(ctx, handles[b], msg)
				if err != nil {
					return fmt.Errorf("module %s on %s: %w", msg.ModuleName, pub.Name(), err)
				}
				mu.Lock()
				acks[i] = append(acks[i], ack)
				mu.Unlock()
				if accepted != nil {
					first[i].Do(func() { accepted(msg) })
				}
				return nil
			})
		}
	}
	err := p.Wait()

	for i, msg := range msgs {
		jobs[i].Acks = acks[i]
		if len(acks[i]) > 0 {
			text := "module " + msg.ModuleName + " queued"
			for _, a := range acks[i] {
				text += " " + a.Backend + " job #:" + a.MessageID
			}
			o.audit(ctx, logger, ev, model.ExecutionLogModule, msg.ModuleName, text)
			logger.Info("dispatch: module queued", "module", msg.ModuleName, "job_id", msg.JobID, "backends", len(acks[i]))
		}
	}

	if err != nil {
		return jobs, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return jobs, nil
}

// audit appends an execution log entry. Failures are logged and otherwise
// ignored.
func (o *Orchestrator) audit(ctx context.Context, logger *slog.Logger, ev model.Event, typ model.ExecutionLogType, module, message string) {
	entry := &model.ExecutionLog{
		ApplicationID: ev.ApplicationID,
		Environment:   ev.Environment,
		EventID:       ev.EventID,
		CorrelationID: ev.CorrelationID,
		Type:          typ,
		ModuleName:    module,
		Message:       message,
	}
	if err := o.store.AppendExecutionLog(ctx, entry); err != nil {
		logger.Warn("dispatch: writing execution log", "type", string(typ), "err", err)
	}
}

type noopNotifier struct{}

func (noopNotifier) Heartbeat(context.Context, model.Event)     {}
func (noopNotifier) Processed(context.Context, Result)          {}
func (noopNotifier) Failed(context.Context, model.Event, error) {}
