// Package resource decides which sub-resource requests a page may make while
// it is being archived.
package resource

import (
	"strings"
	"sync"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// DefaultBlockedTypes are the heavy, non-essential resource types dropped
// during capture.
var DefaultBlockedTypes = []string{"image", "media", "font"}

// Policy blocks requests by resource type and allows everything else.
type Policy struct {
	blocked map[string]struct{}
}

// New creates a Policy blocking the given resource types. An empty list falls
// back to DefaultBlockedTypes.
func New(blockedTypes []string) *Policy {
	if len(blockedTypes) == 0 {
		blockedTypes = DefaultBlockedTypes
	}
	p := &Policy{blocked: make(map[string]struct{}, len(blockedTypes))}
	for _, t := range blockedTypes {
		t = normalizeType(t)
		if t == "" {
			continue
		}
		p.blocked[t] = struct{}{}
	}
	return p
}

// Decide returns Block for blocked resource types and Allow otherwise,
// including for unknown types.
func (p *Policy) Decide(resourceType string) archive.Decision {
	if _, ok := p.blocked[normalizeType(resourceType)]; ok {
		return archive.Block
	}
	return archive.Allow
}

// Observations maps every observed request URL to its resource type.
type Observations map[string]string

// TypeOf returns the recorded resource type of url, or "" when the request was
// never observed.
func (o Observations) TypeOf(url string) string {
	return o[url]
}

// Interceptor applies a Policy to one page and records what it saw. It is owned
// by a single capture run; the browser may call Handle concurrently.
type Interceptor struct {
	policy *Policy

	mu      sync.Mutex
	seen    Observations
	blocked map[string]int
}

// NewInterceptor creates an Interceptor for a single run.
func NewInterceptor(policy *Policy) *Interceptor {
	if policy == nil {
		policy = New(nil)
	}
	return &Interceptor{
		policy:  policy,
		seen:    make(Observations),
		blocked: make(map[string]int),
	}
}

// Handle records the request and returns the policy decision.
func (i *Interceptor) Handle(req archive.InterceptedRequest) archive.Decision {
	resourceType := normalizeType(req.ResourceType)
	decision := i.policy.Decide(resourceType)

	i.mu.Lock()
	i.seen[req.URL] = resourceType
	if decision == archive.Block {
		i.blocked[resourceType]++
	}
	i.mu.Unlock()
	return decision
}

// Observed returns a snapshot of the URL to resource type map.
func (i *Interceptor) Observed() Observations {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(Observations, len(i.seen))
	for k, v := range i.seen {
		out[k] = v
	}
	return out
}

// BlockedCounts returns how many requests were blocked per resource type.
func (i *Interceptor) BlockedCounts() map[string]int {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]int, len(i.blocked))
	for k, v := range i.blocked {
		out[k] = v
	}
	return out
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
