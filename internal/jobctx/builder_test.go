package jobctx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store/memory"
)

func seededStore() *memory.Store {
	s := memory.New()
	s.PutOrganisation(&model.Organisation{ID: "org", GitFolder: "org"})
	s.PutApplication(&model.Application{ID: "app", OrganisationID: "org", GitRepo: "app"})
	s.PutAppUser(&model.AppUser{ID: "user-1", ApplicationID: "app", Environment: "test"})
	s.PutSession(&model.Session{ID: "sess-1", ApplicationID: "app", AppUserID: "user-1"})
	s.PutSession(&model.Session{ID: "anon", ApplicationID: "app"})
	s.PutBucket(&model.Bucket{ID: "bucket-1", ApplicationID: "app"})
	return s
}

func TestLoad(t *testing.T) {
	b := NewBuilder(seededStore(), nil)
	app, org, err := b.Load(context.Background(), "app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if app.ID != "app" || org.ID != "org" {
		t.Errorf("Load = %s/%s, want app/org", app.ID, org.ID)
	}
}

func TestLoad_Errors(t *testing.T) {
	orphan := seededStore()
	orphan.PutApplication(&model.Application{ID: "orphan", OrganisationID: "gone"})

	down := seededStore()
	down.Err = errors.New("connection refused")

	for _, tc := range []struct {
		name    string
		store   *memory.Store
		appID   string
		wantErr error
	}{
		{name: "ApplicationMissing", store: seededStore(), appID: "nope", wantErr: ErrApplicationNotFound},
		{name: "OrganisationMissing", store: orphan, appID: "orphan", wantErr: ErrOrganisationNotFound},
		{name: "StoreDown", store: down, appID: "app", wantErr: ErrDependencyLookupFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewBuilder(tc.store, nil).Load(context.Background(), tc.appID)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBuild_AllLookups(t *testing.T) {
	s := seededStore()
	b := NewBuilder(s, nil)
	app, org, _ := b.Load(context.Background(), "app")

	ev := model.Event{EventID: "e", ApplicationID: "app", EventName: "signup", SessionID: "sess-1", BucketID: "bucket-1"}
	c := b.Build(context.Background(), ev, app, org)

	if c.Environment != model.DefaultEnvironment {
		t.Errorf("Environment = %q, want %q", c.Environment, model.DefaultEnvironment)
	}
	if c.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", c.SessionID)
	}
	if c.User == nil || c.User.ID != "user-1" {
		t.Errorf("User = %+v", c.User)
	}
	if c.Bucket == nil || c.Bucket.ID != "bucket-1" {
		t.Errorf("Bucket = %+v", c.Bucket)
	}
	if c.Event.EventID != "e" || c.Application.ID != "app" || c.Organisation.ID != "org" {
		t.Errorf("snapshot fields wrong: %+v", c)
	}
}

func TestBuild_MissingReferencesAreAbsent(t *testing.T) {
	b := NewBuilder(seededStore(), nil)
	for _, tc := range []struct {
		name string
		ev   model.Event
	}{
		{name: "NoIdentifiers", ev: model.Event{ApplicationID: "app"}},
		{name: "UnknownSessionAndBucket", ev: model.Event{ApplicationID: "app", SessionID: "ghost", BucketID: "ghost"}},
		{name: "SessionWithoutUser", ev: model.Event{ApplicationID: "app", SessionID: "anon"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := b.Build(context.Background(), tc.ev, &model.Application{ID: "app"}, &model.Organisation{ID: "org"})
			if c.User != nil || c.Bucket != nil {
				t.Errorf("expected no user or bucket, got %+v / %+v", c.User, c.Bucket)
			}
		})
	}
}

func TestBuild_StoreErrorOnOptionalLookup(t *testing.T) {
	s := seededStore()
	s.Err = errors.New("store down")
	c := NewBuilder(s, nil).Build(context.Background(),
		model.Event{ApplicationID: "app", SessionID: "sess-1", BucketID: "bucket-1"},
		&model.Application{ID: "app"}, &model.Organisation{ID: "org"})
	if c.SessionID != "" || c.User != nil || c.Bucket != nil {
		t.Errorf("expected optional fields absent, got %+v", c)
	}
}

// slowStore delays session and bucket lookups to check they overlap.
type slowStore struct {
	*memory.Store
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *slowStore) enter() func() {
	n := s.inFlight.Add(1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)
	return func() { s.inFlight.Add(-1) }
}

func (s *slowStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	defer s.enter()()
	return s.Store.FindSession(ctx, id)
}

func (s *slowStore) FindBucket(ctx context.Context, id string) (*model.Bucket, error) {
	defer s.enter()()
	return s.Store.FindBucket(ctx, id)
}

func TestBuild_LookupsRunConcurrently(t *testing.T) {
	s := &slowStore{Store: seededStore(), delay: 50 * time.Millisecond}
	c := NewBuilder(s, nil).Build(context.Background(),
		model.Event{ApplicationID: "app", SessionID: "anon", BucketID: "bucket-1"},
		&model.Application{ID: "app"}, &model.Organisation{ID: "org"})

	if got := s.maxSeen.Load(); got != 2 {
		t.Errorf("max concurrent lookups = %d, want 2", got)
	}
	if c.Bucket == nil || c.SessionID != "anon" {
		t.Errorf("Build did not wait for both lookups: %+v", c)
	}
}
