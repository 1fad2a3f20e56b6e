// Package storage is the durable side-store for group settings, reading
// progress, the prayer-time cache and the operator audit trail.
//
// Two drivers: "sqlite" (default, modernc.org/sqlite, WAL) and "none"
// (in-memory only; nothing survives a restart). All writes are idempotent
// upserts so callers may retry freely.
package storage
