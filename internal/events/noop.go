package events

import "context"

// NoopPublisher discards every event. serve uses it when no NATS URL is
// configured, so lifecycle notifications go nowhere.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (*NoopPublisher) Close() error { return nil }
