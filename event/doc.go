// Package event provides the typed event bus and timer scheduler the
// transfer core runs on. Managers subscribe to a fixed, enumerated set of
// event kinds at construction; there is no ambient global dispatch table.
//
// All handlers run on a single logical event-processing context. Code on
// that context calls Emit for synchronous dispatch; other goroutines (the
// network worker, timers) hand work over with Post or Invoke, which the loop
// drains in order. Because handlers never run concurrently, subscribers need
// no locking around their state.
package event
