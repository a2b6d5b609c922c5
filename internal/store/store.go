// Package store defines the document lookups the dispatch pipeline reads and
// the execution log it appends to.
package store

import (
	"context"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// Store is the persistence interface consumed by the broker.
//
// Find* methods return (nil, nil) when the document does not exist; an error
// means the lookup itself failed.
type Store interface {
	FindApplication(ctx context.Context, id string) (*model.Application, error)
	FindOrganisation(ctx context.Context, id string) (*model.Organisation, error)
	FindSession(ctx context.Context, id string) (*model.Session, error)
	FindAppUser(ctx context.Context, id string) (*model.AppUser, error)
	FindBucket(ctx context.Context, id string) (*model.Bucket, error)

	// AppendExecutionLog records an audit entry and fills in its ID and
	// CreatedAt.
	AppendExecutionLog(ctx context.Context, entry *model.ExecutionLog) error
	// ListExecutionLogs returns up to limit entries with ID > afterID in ID order.
	ListExecutionLogs(ctx context.Context, afterID int64, limit int) ([]*model.ExecutionLog, error)

	Close() error
}
