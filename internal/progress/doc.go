// Package progress tracks weighted crawl tasks and reports every change.
//
// A Tracker owns the task table and computes the weighted aggregate. Each
// change is handed to an optional hook and emitted as an Event; the Hub
// batches events on a background goroutine and fans them out to sinks such as
// structured logs or Prometheus gauges.
package progress
