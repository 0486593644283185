// Package reconciler runs the three independent sweep jobs from §4.9 on a
// cron schedule: stale run leases, stale sync workers, and (optionally)
// human-loop request timeouts.
package reconciler

import "time"

// Config carries the RECONCILER_* environment knobs from §6/§10.
type Config struct {
	// Schedule is a standard 5-field cron expression. Defaults to every
	// minute.
	Schedule string

	StaleClaimLimit        int
	StaleClaimRetryDelayMs int64

	SyncStaleAfterMs int64
	SyncLimit        int

	HumanLoopTimeoutEnabled bool
	HumanLoopTimeoutMs      int64
	HumanLoopLimit          int

	Now func() time.Time
}

// JobReport tallies one job's outcome for one sweep pass.
type JobReport struct {
	Candidates int
	Succeeded  int
	Failed     int
}

// Report is the result of one full sweep (all three jobs).
type Report struct {
	StaleClaims JobReport
	StaleSync   JobReport
	HumanLoop   JobReport
}
