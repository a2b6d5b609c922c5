package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	seen []model.Event
	got  chan struct{}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ev model.Event) (dispatch.Result, error) {
	d.mu.Lock()
	d.seen = append(d.seen, ev)
	d.mu.Unlock()
	d.got <- struct{}{}
	return dispatch.Result{Event: ev}, nil
}

type fakeAcker struct {
	completed chan string
	failed    chan string
}

func (a *fakeAcker) Complete(id string) bool {
	a.completed <- id
	return true
}

func (a *fakeAcker) Fail(id, reason string) bool {
	a.failed <- id + ":" + reason
	return true
}

func startListener(t *testing.T, d Dispatcher, a Acker) (*NATSPublisher, func()) {
	t.Helper()
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(sub, d, a, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Give Run time to register its subscriptions.
	time.Sleep(50 * time.Millisecond)

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	}
	return pub, stop
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestListener_DispatchesEvents(t *testing.T) {
	d := &fakeDispatcher{got: make(chan struct{}, 4)}
	pub, stop := startListener(t, d, nil)
	defer stop()

	ev := model.Event{EventID: "evt-1", ApplicationID: "app", EventName: "signup"}
	if err := pub.Publish(context.Background(), TopicApplicationEvent, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Malformed payloads are dropped.
	_ = pub.Conn().Publish(TopicApplicationEvent, []byte("not json"))
	pub.Conn().Flush()

	waitFor(t, d.got)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) != 1 || d.seen[0].EventID != "evt-1" {
		t.Errorf("dispatched = %+v", d.seen)
	}
}

func TestListener_RoutesAcks(t *testing.T) {
	d := &fakeDispatcher{got: make(chan struct{}, 1)}
	a := &fakeAcker{completed: make(chan string, 1), failed: make(chan string, 1)}
	pub, stop := startListener(t, d, a)
	defer stop()

	ctx := context.Background()
	_ = pub.Publish(ctx, TopicJobCompleted, JobAck{JobID: "job-1"})
	_ = pub.Publish(ctx, TopicJobFailed, JobAck{JobID: "job-2", Reason: "module threw"})
	// Our own stuck notifications share the prefix and are ignored.
	raw, _ := json.Marshal(JobStuck{})
	_ = pub.Conn().Publish(TopicJobStuck, raw)
	pub.Conn().Flush()

	if got := waitFor(t, a.completed); got != "job-1" {
		t.Errorf("completed = %q", got)
	}
	if got := waitFor(t, a.failed); got != "job-2:module threw" {
		t.Errorf("failed = %q", got)
	}
}
