// Package storage provides the GORM-backed persistence layer.
//
// GormStorage implements both core.Registry and core.CheckpointStore on top
// of SQLite or PostgreSQL. Checkpoint writes are transactional and enforce
// the strict per-job stage ordering invariant at the database layer.
package storage
