// Package recovery reconciles persisted checkpoint state with reality after
// an unclean shutdown.
//
// A single idempotent startup pass replaces scattered per-request
// "mark interrupted" checks: jobs left running by a crashed process are
// marked interrupted with their last durably checkpointed stage recorded,
// and continuation is delegated to the orchestrator's Resume.
package recovery
