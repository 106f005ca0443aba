package progress

import (
	"context"
	"time"
)

// Sink consumes batches of progress events. Consume is only ever called from
// the hub goroutine; Close is called once after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it; a nil *Hub is a
// valid no-op Emitter.
type Emitter interface {
	Emit(evt Event)
}

// Reporter stamps events with a run ID and timestamp before handing them to
// an Emitter, so call sites only fill in what they know. A nil Reporter
// discards everything.
type Reporter struct {
	runID   [16]byte
	emitter Emitter
	now     func() time.Time
}

// NewReporter binds emitter to runID. now defaults to time.Now.
func NewReporter(runID [16]byte, emitter Emitter, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{runID: runID, emitter: emitter, now: now}
}

// RunID returns the bound run identifier.
func (r *Reporter) RunID() [16]byte {
	if r == nil {
		return [16]byte{}
	}
	return r.runID
}

// Report fills RunID and TS and forwards evt.
func (r *Reporter) Report(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}
