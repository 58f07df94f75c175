// Package notifier queues task-created messages and delivers them through
// the relay in the background.
//
// The pipeline is a bounded queue drained by a small worker pool, with a
// token-bucket rate limit, optional retry with jittered exponential backoff,
// and time-window dedup keyed on source, user and text. Dedup state can be
// persisted to storage so it survives restarts.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered notifications.
package notifier
