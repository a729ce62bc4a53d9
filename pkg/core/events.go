package core

import "time"

// Event is the interface for all pipeline events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when the orchestrator begins (or resumes) a job.
type JobStarted struct {
	Job        *Job
	StartStage int
	Timestamp  time.Time
}

func (*JobStarted) eventMarker() {}

// StageCompleted is emitted after a stage's checkpoint is durably saved.
type StageCompleted struct {
	JobID      string
	StageIndex int
	StageName  string
	Duration   time.Duration
	Timestamp  time.Time
}

func (*StageCompleted) eventMarker() {}

// CheckpointSaved is emitted when a checkpoint row is written.
type CheckpointSaved struct {
	JobID      string
	StageIndex int
	StageName  string
	Timestamp  time.Time
}

func (*CheckpointSaved) eventMarker() {}

// JobCompleted is emitted when the final stage checkpoints successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobInterrupted is emitted on a transient failure or cooperative cancel.
type JobInterrupted struct {
	Job       *Job
	StageName string
	Error     error
	Timestamp time.Time
}

func (*JobInterrupted) eventMarker() {}

// JobFailed is emitted on a fatal, terminal failure.
type JobFailed struct {
	Job       *Job
	StageName string
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// MemoryAlert is emitted when a sample crosses the warning or critical
// threshold. Alerts are observational only.
type MemoryAlert struct {
	Sample   MemorySample
	Critical bool
}

func (*MemoryAlert) eventMarker() {}
