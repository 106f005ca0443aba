package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart          Stage = "RUN_START"
	StageRunDone           Stage = "RUN_DONE"
	StageRunError          Stage = "RUN_ERROR"
	StageFetchDone         Stage = "FETCH_DONE"
	StageEventEmitted      Stage = "EVENT_EMITTED"
	StageBreakerTransition Stage = "BREAKER_TRANSITION"
)

// Event is one observable milestone of a crawl run.
type Event struct {
	// RunID identifies the crawl run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Endpoint names the upstream call for fetch events ("sports", "league_events", "event_detail").
	Endpoint string
	// StatusClass is "2xx".."5xx" or "transport" for fetch events.
	StatusClass string
	Attempt     int
	Bytes       int64
	// Count carries the emitted-event total on RUN_DONE.
	Count int64
	Dur   time.Duration
	// Note carries low-volume context such as "closed->open" or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageEventEmitted:
	case StageFetchDone:
		if e.Endpoint == "" {
			return errors.New("fetch done requires endpoint")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageBreakerTransition:
		if e.Note == "" {
			return errors.New("breaker transition requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
