// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts the clock for APIs that take a time source function.
func (c Clock) Func() func() time.Time {
	return c.Now
}
