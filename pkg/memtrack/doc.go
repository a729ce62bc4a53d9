// Package memtrack samples process memory and attributes deltas to stage
// and component boundaries.
//
// The tracker keeps a bounded ring of recent samples and raises soft alerts
// when a configured threshold is crossed. Alerting is observational only and
// never blocks or aborts processing.
package memtrack
