package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// Dispatcher runs a dispatch to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (dispatch.Result, error)
}

// Acker retires tracked jobs. *watchdog.Watchdog implements it.
type Acker interface {
	Complete(jobID string) bool
	Fail(jobID, reason string) bool
}

// Listener feeds application events from the bus into a Dispatcher and
// worker acknowledgements into an Acker.
type Listener struct {
	sub        Subscriber
	dispatcher Dispatcher
	acker      Acker
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewListener creates a Listener. acker may be nil, in which case job acks
// are not subscribed to.
func NewListener(sub Subscriber, d Dispatcher, acker Acker, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{sub: sub, dispatcher: d, acker: acker, logger: logger}
}

// Run subscribes and processes messages until ctx is done, then waits for
// in-flight dispatches to finish.
func (l *Listener) Run(ctx context.Context) error {
	events, cancelEvents, err := l.sub.Subscribe(TopicApplicationEvent)
	if err != nil {
		return fmt.Errorf("subscribing to application events: %w", err)
	}
	defer cancelEvents()

	var acks <-chan Message
	if l.acker != nil {
		ch, cancelAcks, err := l.sub.Subscribe("broker.job.*")
		if err != nil {
			return fmt.Errorf("subscribing to job acks: %w", err)
		}
		defer cancelAcks()
		acks = ch
	}

	l.logger.Info("events: listener started", "topic", TopicApplicationEvent, "acks", l.acker != nil)
	defer l.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			l.handleEvent(ctx, msg)
		case msg, ok := <-acks:
			if !ok {
				acks = nil
				continue
			}
			l.handleAck(msg)
		}
	}
}

func (l *Listener) handleEvent(ctx context.Context, msg Message) {
	var ev model.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		l.logger.Warn("events: dropping malformed application event", "err", err)
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if _, err := l.dispatcher.Dispatch(ctx, ev); err != nil {
			l.logger.Error("events: dispatch failed",
				"event_id", ev.EventID, "application_id", ev.ApplicationID, "err", err)
		}
	}()
}

func (l *Listener) handleAck(msg Message) {
	var ack JobAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil || ack.JobID == "" {
		l.logger.Warn("events: dropping malformed job ack", "subject", msg.Subject, "err", err)
		return
	}

	var known bool
	switch msg.Subject {
	case TopicJobCompleted:
		known = l.acker.Complete(ack.JobID)
	case TopicJobFailed:
		known = l.acker.Fail(ack.JobID, ack.Reason)
	default:
		return
	}
	if !known {
		l.logger.Debug("events: ack for untracked job", "job_id", ack.JobID, "subject", msg.Subject)
	}
}
