// Package uuid generates ledger row IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements archive.IDGenerator. IDs are UUIDv7 so ledger rows
// sort by the time they were recorded.
type Generator struct {
	next func() (uuid.UUID, error)
}

// New returns a UUIDv7 Generator.
func New() *Generator {
	return &Generator{next: uuid.NewV7}
}

// NewID returns the next ID in canonical string form.
func (g *Generator) NewID() (string, error) {
	id, err := g.next()
	if err != nil {
		return "", fmt.Errorf("new ledger id: %w", err)
	}
	return id.String(), nil
}
