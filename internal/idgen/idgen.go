// Package idgen generates short, URL-safe identifiers for events and jobs.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the identifiers the broker mints itself.
const (
	EventPrefix = "evt-"
	JobPrefix   = "job-"
)

// Alphabet is the character set of the random part. It contains no '.', '*'
// or '>' so ids are safe inside NATS subjects.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters (excluding the prefix).
var Length = 16

// EventID returns a new event identifier.
func EventID() (string, error) {
	return WithPrefix(EventPrefix)
}

// JobID returns a new job tracking identifier.
func JobID() (string, error) {
	return WithPrefix(JobPrefix)
}

// WithPrefix returns a new identifier with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
