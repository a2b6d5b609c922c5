package model

// Context is the per-dispatch payload context shared by every job message of
// one event. User, SessionID and Bucket are set only when the event referenced
// them and the lookup found something.
type Context struct {
	ApplicationID string        `json:"applicationId"`
	Environment   string        `json:"environment"`
	Event         Event         `json:"event"`
	Application   *Application  `json:"application,omitempty"`
	Organisation  *Organisation `json:"organisation,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	User          *AppUser      `json:"user,omitempty"`
	Bucket        *Bucket       `json:"bucket,omitempty"`
}

// JobMessage instructs a worker to run one module for one event.
//
// The JSON shape is consumed by workers: fields may be added but never
// renamed or removed.
type JobMessage struct {
	ApplicationID   string            `json:"applicationId"`
	CorrelationID   string            `json:"correlationId"`
	EventID         string            `json:"eventId"`
	ModuleName      string            `json:"moduleName"`
	ModulePath      string            `json:"modulePath"`
	Environment     string            `json:"environment"`
	ApplicationPath string            `json:"applicationPath"`
	BucketID        string            `json:"bucketId,omitempty"`
	Context         Context           `json:"context"`
	JobID           string            `json:"jobId,omitempty"`
	Event           string            `json:"event"`
	Application     string            `json:"application"`
	Module          ModuleDescription `json:"module"`
	Title           string            `json:"title"`
	User            string            `json:"user,omitempty"`
}
