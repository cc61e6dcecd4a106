package headless

import (
	"sync"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// loadSignals turns main-frame lifecycle events into one-shot channels.
// Events are ignored until arm is called so the initial about:blank document
// never satisfies a wait.
type loadSignals struct {
	mu       sync.Mutex
	armed    bool
	frameID  string
	loaderID string
	states   map[archive.LoadState]chan struct{}
}

func newLoadSignals() *loadSignals {
	return &loadSignals{
		states: map[archive.LoadState]chan struct{}{
			archive.LoadStateDOMContentLoaded: make(chan struct{}),
			archive.LoadStateLoad:             make(chan struct{}),
			archive.LoadStateNetworkIdle:      make(chan struct{}),
		},
	}
}

func (s *loadSignals) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *loadSignals) channel(state archive.LoadState) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.states[state]
	return ch, ok
}

func (s *loadSignals) frameNavigated(frameID, parentID, loaderID string) {
	if parentID != "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}
	s.frameID = frameID
	s.loaderID = loaderID
}

func (s *loadSignals) lifecycle(frameID, loaderID, name string) {
	var state archive.LoadState
	switch name {
	case "DOMContentLoaded":
		state = archive.LoadStateDOMContentLoaded
	case "load":
		state = archive.LoadStateLoad
	case "networkIdle":
		state = archive.LoadStateNetworkIdle
	default:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || s.frameID == "" || frameID != s.frameID {
		return
	}
	if s.loaderID != "" && loaderID != s.loaderID {
		return
	}
	s.closeLocked(state)
}

// mark signals a state reported by a main-frame-only event.
func (s *loadSignals) mark(state archive.LoadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || s.frameID == "" {
		return
	}
	s.closeLocked(state)
}

func (s *loadSignals) closeLocked(state archive.LoadState) {
	ch := s.states[state]
	select {
	case <-ch:
	default:
		close(ch)
	}
}
