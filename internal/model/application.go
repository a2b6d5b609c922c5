package model

import (
	"encoding/json"
	"time"
)

// DefaultEnvironment is used when an event does not name one.
const DefaultEnvironment = "live"

// Organisation owns applications and the folder their code is deployed under.
type Organisation struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	GitFolder string    `json:"gitFolder"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Application is a deployed application and its per-environment settings.
type Application struct {
	ID             string    `json:"_id"`
	OrganisationID string    `json:"organisation"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	GitRepo        string    `json:"gitRepo"`
	Settings       Settings  `json:"settings,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Settings maps an environment name ("live", "test", ...) to its settings.
// A nil map means the application has no settings block at all.
type Settings map[string]*EnvironmentSettings

// EnvironmentSettings holds the module catalogue and event bindings for one
// environment.
type EnvironmentSettings struct {
	Modules []ModuleDescription     `json:"modules,omitempty"`
	On      map[string]EventBinding `json:"on,omitempty"`
}

// ModuleDescription is a catalogue entry: a module name and the path to its
// source relative to the application deploy folder.
type ModuleDescription struct {
	Name string `json:"name"`
	Src  string `json:"src"`
}

// EventBinding lists, in order, the module names that run for an event.
type EventBinding struct {
	Modules []string `json:"modules"`
}

// Module returns the catalogue entry with the given name, or nil.
func (s *EnvironmentSettings) Module(name string) *ModuleDescription {
	if s == nil {
		return nil
	}
	for i := range s.Modules {
		if s.Modules[i].Name == name {
			return &s.Modules[i]
		}
	}
	return nil
}

// Session is an end-user session, optionally bound to an app user.
type Session struct {
	ID            string    `json:"_id"`
	ApplicationID string    `json:"application"`
	AppUserID     string    `json:"appUser,omitempty"`
	Environment   string    `json:"environment"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// AppUser is an end user of an application. Document holds the stored
// record as-is so it can be forwarded to workers unchanged.
type AppUser struct {
	ID            string          `json:"_id"`
	ApplicationID string          `json:"application"`
	Environment   string          `json:"environment"`
	Document      json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"createdAt,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt,omitempty"`
}

// MarshalJSON emits the stored document when present.
func (u AppUser) MarshalJSON() ([]byte, error) {
	if len(u.Document) > 0 {
		return u.Document, nil
	}
	type plain AppUser
	return json.Marshal(plain(u))
}

// Bucket is an application data partition.
type Bucket struct {
	ID            string          `json:"_id"`
	ApplicationID string          `json:"application"`
	Environment   string          `json:"environment"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitempty"`
}
