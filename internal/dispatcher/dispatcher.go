// Package dispatcher provides bounded fan-out stages for crawl work.
package dispatcher

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Stage runs tasks on goroutines with at most limit in flight. Go blocks
// while the stage is saturated, which gives callers natural back-pressure.
type Stage struct {
	name   string
	limit  int
	group  errgroup.Group
	active atomic.Int64
	peak   atomic.Int64
	done   atomic.Int64
}

// New creates a Stage. A non-positive limit is treated as 1.
func New(name string, limit int) *Stage {
	if limit <= 0 {
		limit = 1
	}
	s := &Stage{name: name, limit: limit}
	s.group.SetLimit(limit)
	return s
}

// Name returns the stage label.
func (s *Stage) Name() string {
	return s.name
}

// Limit returns the configured concurrency bound.
func (s *Stage) Limit() int {
	return s.limit
}

// Go schedules task, blocking until a slot is free. Task failures are the
// task's own business; the stage never cancels siblings.
func (s *Stage) Go(task func()) {
	s.group.Go(func() error {
		s.enter()
		defer s.leave()
		task()
		return nil
	})
}

// Wait blocks until every scheduled task has returned.
func (s *Stage) Wait() {
	_ = s.group.Wait()
}

// Peak reports the highest number of tasks observed in flight at once.
func (s *Stage) Peak() int {
	return int(s.peak.Load())
}

// Completed reports how many tasks have finished.
func (s *Stage) Completed() int {
	return int(s.done.Load())
}

func (s *Stage) enter() {
	n := s.active.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Stage) leave() {
	s.active.Add(-1)
	s.done.Add(1)
}
