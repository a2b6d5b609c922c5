// Package watchdog tracks emitted jobs until a worker reports them complete
// or failed, and raises an alert for jobs that miss their deadline.
//
// Each tracked job owns one timer. Completion, failure and expiry race for
// the job's map entry under the lock, so exactly one of them retires it.
package watchdog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// LevelAlert is logged for stuck jobs; it sorts above slog.LevelError.
const LevelAlert = slog.Level(12)

// DefaultDeadline is used when Config.Deadline is zero.
const DefaultDeadline = 2 * time.Minute

// Outcome is how a tracked job was retired.
type Outcome int

const (
	Completed Outcome = iota
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Job identifies one emitted job and the event it came from.
type Job struct {
	JobID         string    `json:"job_id"`
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id"`
	ApplicationID string    `json:"application_id"`
	EventName     string    `json:"event_name"`
	ModuleName    string    `json:"module_name"`
	TrackedAt     time.Time `json:"tracked_at"`
	Deadline      time.Time `json:"deadline"`
}

// Config configures a Watchdog.
type Config struct {
	// Deadline is how long a job may stay outstanding. Default: 2 minutes.
	Deadline time.Duration

	// OnStuck is called once for each job that misses its deadline, outside
	// the lock.
	OnStuck func(Job)

	Logger *slog.Logger
}

// Watchdog tracks outstanding jobs.
type Watchdog struct {
	deadline time.Duration
	onStuck  func(Job)
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*tracked
	stopped bool
}

type tracked struct {
	job    Job
	timer  *time.Timer
	retire func(Outcome)
}

// New creates a Watchdog.
func New(cfg Config) *Watchdog {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		deadline: cfg.Deadline,
		onStuck:  cfg.OnStuck,
		logger:   logger,
		jobs:     make(map[string]*tracked),
	}
}

// Deadline returns the per-job deadline.
func (w *Watchdog) Deadline() time.Duration { return w.deadline }

// Track starts the deadline timer for job. retire, if non-nil, is called
// exactly once with the outcome that ended tracking. Tracking an id that is
// already outstanding retires the earlier entry as failed. After Stop, job
// is retired as failed immediately.
func (w *Watchdog) Track(job Job, retire func(Outcome)) {
	now := time.Now()
	job.TrackedAt = now
	job.Deadline = now.Add(w.deadline)
	t := &tracked{job: job, retire: retire}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Warn("watchdog: job tracked after stop", "job_id", job.JobID, "event_id", job.EventID)
		if retire != nil {
			retire(Failed)
		}
		return
	}
	prev, replaced := w.jobs[job.JobID]
	if replaced {
		prev.timer.Stop()
	}
	w.jobs[job.JobID] = t
	t.timer = time.AfterFunc(w.deadline, func() { w.expire(t) })
	w.mu.Unlock()

	if replaced {
		w.logger.Warn("watchdog: job id tracked twice, retiring earlier entry",
			"job_id", job.JobID, "event_id", prev.job.EventID)
		if prev.retire != nil {
			prev.retire(Failed)
		}
	}
}

// Complete retires jobID as completed. It reports whether the job was
// outstanding.
func (w *Watchdog) Complete(jobID string) bool {
	return w.finish(jobID, Completed, "")
}

// Fail retires jobID as failed. It reports whether the job was outstanding.
func (w *Watchdog) Fail(jobID, reason string) bool {
	return w.finish(jobID, Failed, reason)
}

func (w *Watchdog) finish(jobID string, outcome Outcome, reason string) bool {
	w.mu.Lock()
	t, ok := w.jobs[jobID]
	if ok {
		delete(w.jobs, jobID)
		t.timer.Stop()
	}
	w.mu.Unlock()
	if !ok {
		return false
	}

	attrs := []any{
		"job_id", jobID,
		"event_id", t.job.EventID,
		"correlation_id", t.job.CorrelationID,
		"module", t.job.ModuleName,
		"elapsed", time.Since(t.job.TrackedAt),
	}
	if outcome == Failed {
		w.logger.Warn("watchdog: job failed", append(attrs, "reason", reason)...)
	} else {
		w.logger.Info("watchdog: job completed", attrs...)
	}
	if t.retire != nil {
		t.retire(outcome)
	}
	return true
}

func (w *Watchdog) expire(t *tracked) {
	w.mu.Lock()
	cur, ok := w.jobs[t.job.JobID]
	if !ok || cur != t {
		w.mu.Unlock()
		return
	}
	delete(w.jobs, t.job.JobID)
	w.mu.Unlock()

	w.logger.Log(context.Background(), LevelAlert, "watchdog: job stuck past deadline",
		"job_id", t.job.JobID,
		"event_id", t.job.EventID,
		"event_name", t.job.EventName,
		"correlation_id", t.job.CorrelationID,
		"application_id", t.job.ApplicationID,
		"module", t.job.ModuleName,
		"deadline", w.deadline)

	if w.onStuck != nil {
		w.onStuck(t.job)
	}
	if t.retire != nil {
		t.retire(TimedOut)
	}
}

// Outstanding returns the jobs still being tracked, oldest first.
func (w *Watchdog) Outstanding() []Job {
	w.mu.Lock()
	jobs := make([]Job, 0, len(w.jobs))
	for _, t := range w.jobs {
		jobs = append(jobs, t.job)
	}
	w.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].TrackedAt.Equal(jobs[j].TrackedAt) {
			return jobs[i].JobID < jobs[j].JobID
		}
		return jobs[i].TrackedAt.Before(jobs[j].TrackedAt)
	})
	return jobs
}

// Stop cancels every timer without alerting and retires the outstanding
// jobs as failed. Later Track calls retire their job immediately.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	pending := make([]*tracked, 0, len(w.jobs))
	for id, t := range w.jobs {
		t.timer.Stop()
		delete(w.jobs, id)
		pending = append(pending, t)
	}
	w.mu.Unlock()

	for _, t := range pending {
		if t.retire != nil {
			t.retire(Failed)
		}
	}
}
