// Package progress carries crawl run milestones from the engine and API client
// to observers. Emitters never block: events are buffered on a channel and
// flushed in batches by a background goroutine to pluggable sinks such as a
// zap log or Prometheus collectors.
package progress
