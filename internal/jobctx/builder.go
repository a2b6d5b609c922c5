// Package jobctx assembles the context shared by every job message of one
// dispatched event.
package jobctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store"
)

var (
	// ErrDependencyLookupFailed wraps store errors on mandatory lookups.
	ErrDependencyLookupFailed = errors.New("jobctx: dependency lookup failed")
	// ErrApplicationNotFound is returned when the event's application does not exist.
	ErrApplicationNotFound = errors.New("jobctx: application not found")
	// ErrOrganisationNotFound is returned when the application's organisation does not exist.
	ErrOrganisationNotFound = errors.New("jobctx: organisation not found")
)

// Builder loads the application/organisation pair and the optional
// session, user and bucket documents referenced by an event.
type Builder struct {
	store  store.Store
	logger *slog.Logger
}

// NewBuilder returns a Builder reading from s.
func NewBuilder(s store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, logger: logger}
}

// Load fetches the application and its owning organisation.
func (b *Builder) Load(ctx context.Context, applicationID string) (*model.Application, *model.Organisation, error) {
	app, err := b.store.FindApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: application %s: %w", ErrDependencyLookupFailed, applicationID, err)
	}
	if app == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}

	org, err := b.store.FindOrganisation(ctx, app.OrganisationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: organisation %s: %w", ErrDependencyLookupFailed, app.OrganisationID, err)
	}
	if org == nil {
		return nil, nil, fmt.Errorf("%w: %s (application %s)", ErrOrganisationNotFound, app.OrganisationID, app.ID)
	}
	return app, org, nil
}

// Build returns the context for ev. The session and bucket lookups run
// concurrently and Build waits for both. A referenced document that is
// missing, or whose lookup fails, is left out of the context.
func (b *Builder) Build(ctx context.Context, ev model.Event, app *model.Application, org *model.Organisation) model.Context {
	c := model.Context{
		ApplicationID: ev.ApplicationID,
		Environment:   ev.EnvironmentOrDefault(),
		Event:         ev,
		Application:   app,
		Organisation:  org,
	}

	var wg sync.WaitGroup
	if ev.SessionID != "" {
		wg.Go(func() {
			c.SessionID, c.User = b.lookupSession(ctx, ev.SessionID)
		})
	}
	if ev.BucketID != "" {
		wg.Go(func() {
			c.Bucket = b.lookupBucket(ctx, ev.BucketID)
		})
	}
	wg.Wait()

	return c
}

func (b *Builder) lookupSession(ctx context.Context, id string) (string, *model.AppUser) {
	sess, err := b.store.FindSession(ctx, id)
	if err != nil {
		b.logger.Warn("jobctx: session lookup failed", "session_id", id, "err", err)
		return "", nil
	}
	if sess == nil {
		return "", nil
	}
	if sess.AppUserID == "" {
		return sess.ID, nil
	}

	user, err := b.store.FindAppUser(ctx, sess.AppUserID)
	if err != nil {
		b.logger.Warn("jobctx: app user lookup failed", "session_id", id, "app_user_id", sess.AppUserID, "err", err)
		return sess.ID, nil
	}
	return sess.ID, user
}

func (b *Builder) lookupBucket(ctx context.Context, id string) *model.Bucket {
	bucket, err := b.store.FindBucket(ctx, id)
	if err != nil {
		b.logger.Warn("jobctx: bucket lookup failed", "bucket_id", id, "err", err)
		return nil
	}
	return bucket
}
