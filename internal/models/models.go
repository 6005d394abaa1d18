// Package models provides domain models for shared positions: canonical
// positions held by their owners, recipients' replicas, the change ledger,
// change events and activity log entries.
//
// Models are plain values. Clone methods give deep copies so callers can
// hand them across package boundaries without aliasing slices.
package models
