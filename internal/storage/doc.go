// Package storage keeps the relay's delivery audit trail and, optionally,
// notifier dedup state so duplicate suppression survives restarts.
//
// Drivers: "sqlite" (modernc.org/sqlite, no cgo) and "mongo". An empty
// driver or "none" disables storage entirely.
package storage
