// Package uuid generates crawl run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a UUID7 for a crawl run.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// MustRunID is NewRunID falling back to a random v4 ID when the v7 source fails.
func (g Generator) MustRunID() uuid.UUID {
	id, err := g.NewRunID()
	if err != nil {
		return uuid.New()
	}
	return id
}
