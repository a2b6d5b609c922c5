// Package archive periodically ships new execution log records to
// long-term storage as JSONL batches.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store"
)

// DefaultBatchSize bounds the number of records written per object.
const DefaultBatchSize = 1000

// DefaultSettle is how old a record must be before it is exported.
const DefaultSettle = time.Minute

// Destination is the interface for an archive target.
type Destination interface {
	// Write stores one JSONL batch under the given object name.
	Write(ctx context.Context, name string, data []byte) error
}

// CursorStore persists the id of the last archived record so a restart
// resumes where the previous process stopped.
type CursorStore interface {
	LoadArchiveCursor(ctx context.Context, name string) (int64, error)
	SaveArchiveCursor(ctx context.Context, name string, cursor int64) error
}

// Scheduler exports execution logs newer than its cursor at a fixed
// interval. The cursor only advances once every destination accepted a
// batch, so a failed write is retried on the next tick.
//
// Record ids are assigned at insert but become visible at commit, so a
// record with a lower id can appear after a higher one. Records younger
// than the settle window are left for a later run, and the cursor never
// passes them.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	batchSize    int
	settle       time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cursors    CursorStore
	cursorName string

	mu     sync.Mutex
	cursor int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSettle sets how old a record must be before it is exported.
// Default: DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(s *Scheduler) { s.settle = d }
}

// WithCursorStore persists the cursor under name after every exported
// batch. Resume loads it back.
func WithCursorStore(cs CursorStore, name string) Option {
	return func(s *Scheduler) {
		s.cursors = cs
		s.cursorName = name
	}
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval, starting after record id cursor.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, cursor int64, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		batchSize:    DefaultBatchSize,
		settle:       DefaultSettle,
		logger:       logger,
		now:          time.Now,
		cursor:       cursor,
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Resume replaces the cursor with the persisted one, if a cursor store is
// configured and holds a later position.
func (s *Scheduler) Resume(ctx context.Context) error {
	if s.cursors == nil {
		return nil
	}
	saved, err := s.cursors.LoadArchiveCursor(ctx, s.cursorName)
	if err != nil {
		return fmt.Errorf("load archive cursor %s: %w", s.cursorName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if saved > s.cursor {
		s.cursor = saved
	}
	return nil
}

// Cursor returns the id of the last archived record.
func (s *Scheduler) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.archiveOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.archiveOnce(ctx)
		}
	}
}

// ArchiveOnce drains every settled record into the destinations and
// returns the number of records archived.
func (s *Scheduler) ArchiveOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for {
		logs, err := s.store.ListExecutionLogs(ctx, s.cursor, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("list execution logs after %d: %w", s.cursor, err)
		}
		logs = settled(logs, s.now().Add(-s.settle))
		if len(logs) == 0 {
			return total, nil
		}

		at := s.now().UTC()
		var buf bytes.Buffer
		last, err := ExportJSONL(&buf, logs, at)
		if err != nil {
			return total, err
		}
		name := ObjectName(at, logs[0].ID, last)
		for i, dest := range s.destinations {
			if err := dest.Write(ctx, name, buf.Bytes()); err != nil {
				return total, fmt.Errorf("destination %d: write %s: %w", i, name, err)
			}
		}

		s.cursor = last
		total += len(logs)
		if s.cursors != nil {
			if err := s.cursors.SaveArchiveCursor(ctx, s.cursorName, last); err != nil {
				return total, fmt.Errorf("save archive cursor %s: %w", s.cursorName, err)
			}
		}
		if len(logs) < s.batchSize {
			return total, nil
		}
	}
}

// settled returns the leading records created at or before cutoff. The
// first record past cutoff ends the run so the cursor cannot skip over a
// record that commits late.
func settled(logs []*model.ExecutionLog, cutoff time.Time) []*model.ExecutionLog {
	for i, l := range logs {
		if l.CreatedAt.After(cutoff) {
			return logs[:i]
		}
	}
	return logs
}

func (s *Scheduler) archiveOnce(ctx context.Context) {
	n, err := s.ArchiveOnce(ctx)
	if err != nil {
		s.logger.Error("archive: export failed", "err", err, "archived", n)
		return
	}
	if n > 0 {
		s.logger.Info("archive: export completed", "records", n, "cursor", s.Cursor(), "destinations", len(s.destinations))
	}
}

// ObjectName names a batch by its export time and id range so names sort
// chronologically and never collide.
func ObjectName(at time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("%s-%012d-%012d.jsonl", at.Format("20060102T150405Z"), firstID, lastID)
}
