// Package scheduler fires keyed timer events from a single goroutine. Events
// live in a min-heap sorted by trigger time and the goroutine never sleeps
// longer than 60 seconds, so wall-clock jumps (NTP steps, suspend) are
// noticed within a minute.
//
// The daemon uses it for recurring background update checks and the client
// façade for delayed release of idle per-package state. Nothing is persisted.
package scheduler
