package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// BusNotifier publishes dispatch lifecycle and stuck-job notifications.
type BusNotifier struct {
	pub    Publisher
	logger *slog.Logger
}

var _ dispatch.Notifier = (*BusNotifier)(nil)

// NewBusNotifier returns a notifier publishing through pub.
func NewBusNotifier(pub Publisher, logger *slog.Logger) *BusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusNotifier{pub: pub, logger: logger}
}

func (n *BusNotifier) Heartbeat(ctx context.Context, ev model.Event) {
	n.publish(ctx, TopicEventPing, EventPing{Event: ev, At: time.Now().UTC()})
}

func (n *BusNotifier) Processed(ctx context.Context, res dispatch.Result) {
	n.publish(ctx, TopicEventDone, EventDone{
		Event:   res.Event,
		NoWork:  res.NoWork,
		Skipped: res.Skipped,
		Jobs:    res.Jobs,
	})
}

func (n *BusNotifier) Failed(ctx context.Context, ev model.Event, err error) {
	n.publish(ctx, TopicEventFailed, EventFailed{Event: ev, Error: err.Error()})
}

// Stuck publishes a stuck-job alert. It matches watchdog.Config.OnStuck.
func (n *BusNotifier) Stuck(job watchdog.Job) {
	n.publish(context.Background(), TopicJobStuck, JobStuck{Job: job})
}

func (n *BusNotifier) publish(ctx context.Context, topic string, event any) {
	if err := n.pub.Publish(ctx, topic, event); err != nil {
		n.logger.Warn("events: publish failed", "topic", topic, "err", err)
	}
}
