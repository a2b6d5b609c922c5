package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
)

// State is a dispatch's position in its lifecycle.
type State int32

const (
	Received State = iota
	Resolving
	NoWork
	BuildingJobs
	Publishing
	AwaitingJobs
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Resolving:
		return "resolving"
	case NoWork:
		return "no_work"
	case BuildingJobs:
		return "building_jobs"
	case Publishing:
		return "publishing"
	case AwaitingJobs:
		return "awaiting_jobs"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// JobResult describes one module job of a dispatch.
type JobResult struct {
	JobID      string      `json:"job_id"`
	ModuleName string      `json:"module_name"`
	Acks       []queue.Ack `json:"acks,omitempty"`
	// Outcome is set when the watchdog retired the job.
	Outcome string `json:"outcome,omitempty"`
}

// Result summarises a finished dispatch.
type Result struct {
	Event   model.Event `json:"event"`
	NoWork  bool        `json:"no_work"`
	Skipped []string    `json:"skipped,omitempty"`
	Jobs    []JobResult `json:"jobs,omitempty"`
}

// Run is one in-flight dispatch. Done is closed when it finishes; Err and
// Result are valid after that. Heartbeat delivers a tick every heartbeat
// interval while module jobs are in flight; ticks are dropped if nobody
// reads them.
type Run struct {
	event     model.Event
	done      chan struct{}
	heartbeat chan time.Time
	state     atomic.Int32

	mu     sync.Mutex
	result Result
	err    error
}

func newRun(ev model.Event) *Run {
	r := &Run{
		event:     ev,
		done:      make(chan struct{}),
		heartbeat: make(chan time.Time, 1),
	}
	r.result.Event = ev
	return r
}

// Event returns the event being dispatched, with generated ids filled in.
func (r *Run) Event() model.Event { return r.event }

// Done is closed when the dispatch finishes.
func (r *Run) Done() <-chan struct{} { return r.done }

// Heartbeat delivers liveness ticks while jobs are in flight.
func (r *Run) Heartbeat() <-chan time.Time { return r.heartbeat }

// State returns the current lifecycle state.
func (r *Run) State() State { return State(r.state.Load()) }

// Err returns the dispatch error, or nil. It blocks until Done.
func (r *Run) Err() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Result returns the dispatch summary. It blocks until Done.
func (r *Run) Result() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Run) setState(s State) { r.state.Store(int32(s)) }

func (r *Run) beat(t time.Time) {
	select {
	case r.heartbeat <- t:
	default:
	}
}

func (r *Run) finish(res Result, err error) {
	r.mu.Lock()
	r.result = res
	r.err = err
	r.mu.Unlock()
	if err != nil {
		r.setState(Failed)
	} else {
		r.setState(Done)
	}
	close(r.done)
}
