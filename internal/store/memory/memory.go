// Package memory is an in-process store.Store used by tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store"
)

// Store keeps documents in maps guarded by a mutex.
type Store struct {
	mu            sync.RWMutex
	applications  map[string]*model.Application
	organisations map[string]*model.Organisation
	sessions      map[string]*model.Session
	appUsers      map[string]*model.AppUser
	buckets       map[string]*model.Bucket
	logs          []*model.ExecutionLog
	cursors       map[string]int64

	// Err, when non-nil, is returned by every Find* call.
	Err error
	// AppendErr, when non-nil, is returned by AppendExecutionLog.
	AppendErr error
	// ListErr, when non-nil, is returned by ListExecutionLogs.
	ListErr error
	// CursorErr, when non-nil, is returned by the archive cursor methods.
	CursorErr error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		applications:  make(map[string]*model.Application),
		organisations: make(map[string]*model.Organisation),
		sessions:      make(map[string]*model.Session),
		appUsers:      make(map[string]*model.AppUser),
		buckets:       make(map[string]*model.Bucket),
		cursors:       make(map[string]int64),
	}
}

func (s *Store) PutApplication(a *model.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[a.ID] = a
}

func (s *Store) PutOrganisation(o *model.Organisation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organisations[o.ID] = o
}

func (s *Store) PutSession(v *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[v.ID] = v
}

func (s *Store) PutAppUser(u *model.AppUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appUsers[u.ID] = u
}

func (s *Store) PutBucket(b *model.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[b.ID] = b
}

func (s *Store) FindApplication(_ context.Context, id string) (*model.Application, error) {
	return find(s, s.applications, id)
}

func (s *Store) FindOrganisation(_ context.Context, id string) (*model.Organisation, error) {
	return find(s, s.organisations, id)
}

func (s *Store) FindSession(_ context.Context, id string) (*model.Session, error) {
	return find(s, s.sessions, id)
}

func (s *Store) FindAppUser(_ context.Context, id string) (*model.AppUser, error) {
	return find(s, s.appUsers, id)
}

func (s *Store) FindBucket(_ context.Context, id string) (*model.Bucket, error) {
	return find(s, s.buckets, id)
}

func find[T any](s *Store, m map[string]*T, id string) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	v, ok := m[id]
	if !ok {
		return nil, nil
	}
	clone := *v
	return &clone, nil
}

func (s *Store) AppendExecutionLog(_ context.Context, entry *model.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	entry.ID = int64(len(s.logs) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	clone := *entry
	s.logs = append(s.logs, &clone)
	return nil
}

func (s *Store) ListExecutionLogs(_ context.Context, afterID int64, limit int) ([]*model.ExecutionLog, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ExecutionLog
	for _, l := range s.logs {
		if l.ID <= afterID {
			continue
		}
		clone := *l
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ExecutionLogs returns a snapshot of every appended entry.
func (s *Store) ExecutionLogs() []model.ExecutionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ExecutionLog, len(s.logs))
	for i, l := range s.logs {
		out[i] = *l
	}
	return out
}

// LoadArchiveCursor returns the saved cursor for name, or 0.
func (s *Store) LoadArchiveCursor(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.CursorErr != nil {
		return 0, s.CursorErr
	}
	return s.cursors[name], nil
}

// SaveArchiveCursor records cursor under name.
func (s *Store) SaveArchiveCursor(_ context.Context, name string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CursorErr != nil {
		return s.CursorErr
	}
	s.cursors[name] = cursor
	return nil
}

func (s *Store) Close() error { return nil }
