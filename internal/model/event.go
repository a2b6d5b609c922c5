package model

import (
	"errors"
	"strings"
)

// Event is an application-level event ("user signed up") to be turned into
// module jobs. It is treated as immutable once accepted for dispatch.
type Event struct {
	EventID        string `json:"eventId"`
	CorrelationID  string `json:"correlationId"`
	ApplicationID  string `json:"applicationId"`
	OrganisationID string `json:"organisationId,omitempty"`
	EventName      string `json:"eventName"`
	Environment    string `json:"environment"`
	SessionID      string `json:"sessionId,omitempty"`
	BucketID       string `json:"bucketId,omitempty"`
}

var (
	errEventApplicationRequired = errors.New("applicationId is required")
	errEventNameRequired        = errors.New("eventName is required")
)

// Validate checks the fields required to dispatch an event.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.ApplicationID) == "" {
		return errEventApplicationRequired
	}
	if strings.TrimSpace(e.EventName) == "" {
		return errEventNameRequired
	}
	return nil
}

// EnvironmentOrDefault returns the event's environment, falling back to
// DefaultEnvironment.
func (e *Event) EnvironmentOrDefault() string {
	if e.Environment == "" {
		return DefaultEnvironment
	}
	return e.Environment
}
