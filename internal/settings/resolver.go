// Package settings resolves which modules an application runs for an event.
package settings

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// ErrConfigurationMissing is returned when an application has no settings
// block, or no settings for the requested environment.
var ErrConfigurationMissing = errors.New("settings: configuration missing")

// Environment returns the settings for env.
func Environment(app *model.Application, env string) (*model.EnvironmentSettings, error) {
	if app == nil || app.Settings == nil {
		return nil, fmt.Errorf("%w: application has no settings", ErrConfigurationMissing)
	}
	s := app.Settings[env]
	if s == nil {
		return nil, fmt.Errorf("%w: no %q settings for application %s", ErrConfigurationMissing, env, app.ID)
	}
	return s, nil
}

// BoundModuleNames returns the module names bound to eventName in env, in
// binding order. An unbound event yields an empty slice.
func BoundModuleNames(app *model.Application, env, eventName string) ([]string, error) {
	s, err := Environment(app, env)
	if err != nil {
		return nil, err
	}
	if s.On == nil {
		return nil, nil
	}
	return s.On[eventName].Modules, nil
}

// ModulesForEvent returns the catalogue entries of the modules bound to
// eventName in env, in binding order.
//
// A bound name missing from the catalogue is skipped rather than reported;
// the skipped names are returned so callers can log them.
func ModulesForEvent(app *model.Application, env, eventName string) (modules []model.ModuleDescription, skipped []string, err error) {
	names, err := BoundModuleNames(app, env, eventName)
	if err != nil {
		return nil, nil, err
	}
	s := app.Settings[env]
	for _, name := range names {
		desc := s.Module(name)
		if desc == nil {
			skipped = append(skipped, name)
			continue
		}
		modules = append(modules, *desc)
	}
	return modules, skipped, nil
}
