// Package reminder fires configured messages on a schedule.
//
// Each reminder is a robfig/cron entry whose job sends the reminder text through
// the relay. Overlapping runs of the same reminder are skipped and panics are
// recovered by the cron chain.
package reminder
