// Package memory contains an in-memory outcome sink for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// Publisher stores recorded outcomes for inspection.
type Publisher struct {
	mu       sync.RWMutex
	outcomes []archive.FetchOutcome
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Record stores the outcome.
func (p *Publisher) Record(_ context.Context, outcome archive.FetchOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	outcome.Headers = archive.CloneHeaders(outcome.Headers)
	p.outcomes = append(p.outcomes, outcome)
	return nil
}

// Outcomes returns the recorded outcomes.
func (p *Publisher) Outcomes() []archive.FetchOutcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]archive.FetchOutcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}
