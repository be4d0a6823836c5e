// Package fanout pushes events to live connections without blocking callers.
//
// A Notifier resolves recipients from the presence registry at call time,
// encodes the event once as {"event": ..., "data": ...}, and hands the job to
// a worker chosen by hashing the target (channel id or the user's personal
// channel). Events for one target are therefore delivered in call order, while
// unrelated targets proceed in parallel.
//
// Delivery is best effort:
//
//   - a full worker queue drops the event and logs a warning
//   - a failed send to one connection is logged at debug level and skipped
//   - nothing is ever returned to the caller
package fanout
