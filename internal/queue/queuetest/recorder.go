// Package queuetest provides an in-memory queue.Publisher for tests.
package queuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
)

// Publish records one accepted message.
type Publish struct {
	Handle  queue.Handle
	Message model.JobMessage
}

// Recorder is a queue.Publisher that keeps everything it is given. Provision
// goes through a queue.ProvisionCache like the real backends.
type Recorder struct {
	name string

	// ProvisionErr, when set, fails every provisioning call.
	ProvisionErr error
	// PublishErr, when set, is returned by the first FailFirst publish
	// attempts of each message (all of them when FailFirst is zero).
	PublishErr error
	FailFirst  int

	// Retrier, when set, wraps every publish like the real backends do.
	Retrier *queue.Retrier

	cache *queue.ProvisionCache

	mu         sync.Mutex
	provisions int
	attempts   map[string]int
	published  []Publish
	closed     bool
}

// New returns a Recorder reporting itself as name.
func New(name string) *Recorder {
	r := &Recorder{name: name, attempts: make(map[string]int)}
	r.cache = queue.NewProvisionCache(r.provision)
	return r
}

// Name implements queue.Publisher.
func (r *Recorder) Name() string { return r.name }

// Provision implements queue.Publisher.
func (r *Recorder) Provision(ctx context.Context, target queue.Target) (queue.Handle, error) {
	return r.cache.Get(ctx, target)
}

func (r *Recorder) provision(_ context.Context, target queue.Target) (queue.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisions++
	if r.ProvisionErr != nil {
		return queue.Handle{}, r.ProvisionErr
	}
	name := target.QueueName("")
	return queue.Handle{Backend: r.name, Name: name, Ref: r.name + "://" + name}, nil
}

// Publish implements queue.Publisher.
func (r *Recorder) Publish(ctx context.Context, h queue.Handle, msg model.JobMessage) (queue.Ack, error) {
	var id string
	op := func(context.Context) error {
		var err error
		id, err = r.attempt(h, msg)
		return err
	}
	attempts := 1
	var err error
	if r.Retrier != nil {
		attempts, err = r.Retrier.Do(ctx, "publish to "+h.Name, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return queue.Ack{}, err
	}
	return queue.Ack{Backend: r.name, Queue: h.Name, MessageID: id, Attempts: attempts}, nil
}

// attempt records msg and returns its message id, which is its position in
// the published list.
func (r *Recorder) attempt(h queue.Handle, msg model.JobMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[msg.JobID]++
	if r.PublishErr != nil && (r.FailFirst == 0 || r.attempts[msg.JobID] <= r.FailFirst) {
		return "", r.PublishErr
	}
	id := fmt.Sprintf("%s-%d", r.name, len(r.published))
	r.published = append(r.published, Publish{Handle: h, Message: msg})
	return id, nil
}

// Close implements queue.Publisher.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Published returns a copy of every accepted message in arrival order.
func (r *Recorder) Published() []Publish {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Publish(nil), r.published...)
}

// Attempts returns the total number of publish attempts.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.attempts {
		n += c
	}
	return n
}

// Provisions returns how many times the backend was actually asked to
// provision, after caching.
func (r *Recorder) Provisions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provisions
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
