// Package httpapi is the inbound HTTP surface of the relay (gin).
//
//	GET  /health                 liveness
//	POST /notify                 synchronous delivery
//	POST /notify/task-created    queued task-created notification
//	GET  /debug/status           runtime snapshots (gated)
//	POST /debug/reminders/:name  fire a reminder now (gated)
//	GET  /debug/pprof/*          net/http/pprof (gated)
package httpapi
