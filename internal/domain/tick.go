package domain

import "time"

// TickRun is the persisted bookkeeping for one orchestrator invocation.
type TickRun struct {
	TickID     string
	WorkerID   string
	StartedAt  time.Time
	FinishedAt *time.Time
	OK         bool
	Claimed    int
	Sent       int
	Failed     int
	Skipped    int
	Released   int // stale claims handed back before claiming
	Notes      *string
}

// TickResult is what a trigger caller gets back.
type TickResult struct {
	OK         bool
	TickID     string
	Claimed    int
	Sent       int
	Failed     int
	Skipped    int
	DurationMS int64
	Error      string
}

type TickHealth struct {
	LastSuccessTickTime *time.Time
	LastTickID          *string
	LastSentAt          *time.Time
	LastError           *string
	LastErrorAt         *time.Time
}
