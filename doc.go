// Package gotimer provides self-managing software timers: handles that fire
// a user callback after a configurable delay, optionally repeating a bounded
// or unbounded number of times.
//
// A [Timer] can be paused, resumed, reconfigured and destroyed safely while
// the deadline facility may be delivering a firing concurrently from another
// goroutine. Deadline measurement is delegated to a pluggable [Scheduler];
// the default implementation is backed by [time.AfterFunc].
package gotimer

//go:generate go tool errtrace -w .
