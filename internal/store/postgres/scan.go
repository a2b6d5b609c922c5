package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanApplication scans a row with columns in applicationColumns order.
func scanApplication(row scannable) (*model.Application, error) {
	var a model.Application
	var settings []byte
	if err := row.Scan(
		&a.ID,
		&a.OrganisationID,
		&a.Name,
		&a.Slug,
		&a.GitRepo,
		&settings,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settings) > 0 && string(settings) != "null" {
		if err := json.Unmarshal(settings, &a.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for application %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func scanOrganisation(row scannable) (*model.Organisation, error) {
	var o model.Organisation
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.GitFolder, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var appUser sql.NullString
	if err := row.Scan(&s.ID, &s.ApplicationID, &appUser, &s.Environment, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.AppUserID = appUser.String
	return &s, nil
}

func scanAppUser(row scannable) (*model.AppUser, error) {
	var u model.AppUser
	var document []byte
	if err := row.Scan(&u.ID, &u.ApplicationID, &u.Environment, &document, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if len(document) > 0 {
		u.Document = json.RawMessage(document)
	}
	return &u, nil
}

func scanBucket(row scannable) (*model.Bucket, error) {
	var b model.Bucket
	var meta []byte
	if err := row.Scan(&b.ID, &b.ApplicationID, &b.Environment, &meta, &b.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		b.Meta = json.RawMessage(meta)
	}
	return &b, nil
}

func scanExecutionLog(row scannable) (*model.ExecutionLog, error) {
	var e model.ExecutionLog
	var typ string
	if err := row.Scan(
		&e.ID,
		&e.ApplicationID,
		&e.Environment,
		&e.EventID,
		&e.CorrelationID,
		&typ,
		&e.ModuleName,
		&e.Message,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Type = model.ExecutionLogType(typ)
	return &e, nil
}
