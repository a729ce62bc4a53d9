// Package admin exposes the observability surface over HTTP: job status and
// progress, memory snapshots and history, pool utilization counters, and a
// manual resume trigger.
package admin
