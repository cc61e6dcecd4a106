// Package system provides the wall clock used for ledger timestamps.
package system

import "time"

// Clock implements archive.Clock. Readings are UTC and truncated to the
// microsecond precision of a Postgres timestamptz, so a recorded value
// round-trips unchanged.
type Clock struct{}

// New returns the wall clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time at microsecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
