// Package job turns a resolved module and a dispatch context into the job
// message handed to workers.
package job

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alfredjeanlab/eventbroker/internal/idgen"
	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// ErrMalformedModule is returned for a module descriptor or context that is
// missing a required field.
var ErrMalformedModule = errors.New("job: malformed module")

// deployDir is the directory under an application's repo that workers run from.
const deployDir = "current"

// Factory builds job messages. The zero value assigns ids with idgen.JobID.
type Factory struct {
	// NewID returns the tracking id stamped on each message.
	NewID func() (string, error)
}

// ApplicationPath returns the deploy folder of app within its organisation.
func ApplicationPath(org *model.Organisation, app *model.Application) string {
	return filepath.Join(org.GitFolder, app.GitRepo, deployDir)
}

// New returns the job message that runs module for the event in c.
func (f Factory) New(c model.Context, module model.ModuleDescription) (model.JobMessage, error) {
	if module.Name == "" {
		return model.JobMessage{}, fmt.Errorf("%w: module name is empty", ErrMalformedModule)
	}
	if module.Src == "" {
		return model.JobMessage{}, fmt.Errorf("%w: module %q has no src", ErrMalformedModule, module.Name)
	}
	if c.Application == nil || c.Organisation == nil {
		return model.JobMessage{}, fmt.Errorf("%w: module %q: context has no application or organisation", ErrMalformedModule, module.Name)
	}

	newID := f.NewID
	if newID == nil {
		newID = idgen.JobID
	}

	jobID, err := newID()
	if err != nil {
		return model.JobMessage{}, fmt.Errorf("job: generating id for module %q: %w", module.Name, err)
	}

	msg := model.JobMessage{
		ApplicationID:   c.ApplicationID,
		CorrelationID:   c.Event.CorrelationID,
		EventID:         c.Event.EventID,
		ModuleName:      module.Name,
		ModulePath:      module.Src,
		Environment:     c.Environment,
		ApplicationPath: ApplicationPath(c.Organisation, c.Application),
		BucketID:        c.Event.BucketID,
		Context:         c,
		JobID:           jobID,
		Event:           c.Event.EventID,
		Application:     c.ApplicationID,
		Module:          module,
		Title:           "running module " + module.Name,
	}
	if c.User != nil {
		msg.User = c.User.ID
	}
	return msg, nil
}
