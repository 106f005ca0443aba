package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		FlushInterval:  time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleReporter shows a sink totalling response bytes per endpoint.
func ExampleReporter() {
	bytesByEndpoint := map[string]int64{}
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			bytesByEndpoint[evt.Endpoint] += evt.Bytes
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1}, capture)
	reporter := NewReporter(UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")), hub, nil)

	reporter.Report(Event{Stage: StageFetchDone, Endpoint: "sports", StatusClass: "2xx", Bytes: 512})
	reporter.Report(Event{Stage: StageFetchDone, Endpoint: "sports", StatusClass: "2xx", Bytes: 256})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("sports bytes: %d\n", bytesByEndpoint["sports"])
	// Output:
	// sports bytes: 768
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
