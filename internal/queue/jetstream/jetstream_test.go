package jetstream

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
)

// startJetStream starts an embedded NATS server with JetStream enabled and
// returns its client URL.
func startJetStream(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func inspect(t *testing.T, url string) jetstream.JetStream {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	return js
}

var target = queue.Target{ApplicationID: "app1", Surface: queue.SurfaceApplicationEvent}

func newPublisher(t *testing.T, url string) *Publisher {
	t.Helper()
	r := queue.NewRetrier(10*time.Millisecond, 50*time.Millisecond, 3, nil)
	p := New(Options{URL: url, Prefix: "test-", Retrier: r})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvision(t *testing.T) {
	url := startJetStream(t)
	p := newPublisher(t, url)
	ctx := context.Background()

	h, err := p.Provision(ctx, target)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if h.Name != "test-run_module_application_event-app1" {
		t.Errorf("Name = %q", h.Name)
	}
	if h.Ref != "test-run_module.application_event.app1" {
		t.Errorf("Ref = %q", h.Ref)
	}

	js := inspect(t, url)
	stream, err := js.Stream(ctx, h.Name)
	if err != nil {
		t.Fatalf("stream not created: %v", err)
	}
	if got := stream.CachedInfo().Config.Retention; got != jetstream.WorkQueuePolicy {
		t.Errorf("Retention = %v, want work queue", got)
	}

	cons, err := stream.Consumer(ctx, WorkerConsumer)
	if err != nil {
		t.Fatalf("consumer not created: %v", err)
	}
	if got := cons.CachedInfo().Config.MaxDeliver; got != 1 {
		t.Errorf("MaxDeliver = %d, want 1 to match the SQS maxReceiveCount", got)
	}

	dlq, err := js.Stream(ctx, "test-FAILED_EVENTS")
	if err != nil {
		t.Fatalf("dead-letter stream not created: %v", err)
	}
	want := "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES." + h.Name + "." + WorkerConsumer
	if !slices.Contains(dlq.CachedInfo().Config.Subjects, want) {
		t.Errorf("dead-letter subjects = %v, want %q", dlq.CachedInfo().Config.Subjects, want)
	}
}

func TestProvision_Idempotent(t *testing.T) {
	url := startJetStream(t)
	ctx := context.Background()

	p := newPublisher(t, url)
	h1, err := p.Provision(ctx, target)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	h2, err := p.Provision(ctx, target)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if h1 != h2 {
		t.Errorf("handles differ: %+v vs %+v", h1, h2)
	}

	// A second process provisioning the same target reuses the stream.
	other := newPublisher(t, url)
	h3, err := other.Provision(ctx, target)
	if err != nil {
		t.Fatalf("Provision from second publisher: %v", err)
	}
	if h3 != h1 {
		t.Errorf("handles differ across publishers: %+v vs %+v", h1, h3)
	}

	if _, err := p.Provision(ctx, queue.Target{ApplicationID: "app2", Surface: queue.SurfaceApplicationEvent}); err != nil {
		t.Fatalf("Provision app2: %v", err)
	}

	js := inspect(t, url)
	names := js.StreamNames(ctx)
	var count int
	for range names.Name() {
		count++
	}
	if count != 3 {
		t.Errorf("streams = %d, want app1 + app2 + dead-letter", count)
	}
	dlq, _ := js.Stream(ctx, "test-FAILED_EVENTS")
	if got := len(dlq.CachedInfo().Config.Subjects); got != 2 {
		t.Errorf("dead-letter subjects = %d, want 2", got)
	}
}

func TestPublish(t *testing.T) {
	url := startJetStream(t)
	p := newPublisher(t, url)
	ctx := context.Background()

	h, err := p.Provision(ctx, target)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	msg := model.JobMessage{ApplicationID: "app1", ModuleName: "welcome-email", JobID: "job-1"}
	ack, err := p.Publish(ctx, h, msg)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ack.Backend != BackendName || ack.Queue != h.Name || ack.Attempts != 1 {
		t.Errorf("ack = %+v", ack)
	}
	if !strings.HasPrefix(ack.MessageID, h.Name+":") {
		t.Errorf("MessageID = %q", ack.MessageID)
	}

	// Republishing the same job id is de-duplicated.
	if _, err := p.Publish(ctx, h, msg); err != nil {
		t.Fatalf("Publish duplicate: %v", err)
	}

	js := inspect(t, url)
	cons, err := js.Consumer(ctx, h.Name, WorkerConsumer)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	batch, err := cons.Fetch(10, jetstream.FetchMaxWait(time.Second))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var got []jetstream.Msg
	for m := range batch.Messages() {
		got = append(got, m)
		_ = m.Ack()
	}
	if len(got) != 1 {
		t.Fatalf("fetched %d messages, want 1", len(got))
	}

	hdr := got[0].Headers()
	if hdr.Get(HeaderAppID) != AppID || hdr.Get(HeaderType) != MessageType {
		t.Errorf("headers = %v", hdr)
	}
	var body model.JobMessage
	if err := json.Unmarshal(got[0].Data(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.ModuleName != "welcome-email" || body.JobID != "job-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	r := queue.NewRetrier(time.Millisecond, time.Millisecond, 2, nil)
	p := New(Options{URL: "nats://127.0.0.1:1", Retrier: r})

	_, err := p.Publish(context.Background(), queue.Handle{Name: "q", Ref: "q"}, model.JobMessage{JobID: "j"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestClose_NeverOpened(t *testing.T) {
	p := New(Options{URL: "nats://127.0.0.1:1"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClose_SharedConnLeftOpen(t *testing.T) {
	url := startJetStream(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer nc.Close()

	p := New(Options{Conn: nc})
	if _, err := p.Provision(context.Background(), target); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if nc.IsClosed() {
		t.Error("shared connection was closed")
	}
}

func TestNames(t *testing.T) {
	p := New(Options{Prefix: "dev.eu "})
	tgt := queue.Target{ApplicationID: "a.b*c", Surface: queue.SurfaceApplicationEvent}
	if got := p.StreamName(tgt); got != "dev_eu_run_module_application_event-a_b_c" {
		t.Errorf("StreamName = %q", got)
	}
	if got := p.Subject(tgt); got != "dev_eu_run_module.application_event.a_b_c" {
		t.Errorf("Subject = %q", got)
	}
}
