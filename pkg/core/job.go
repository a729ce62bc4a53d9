package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusRunning     JobStatus = "running"
	StatusInterrupted JobStatus = "interrupted" // Stopped mid-flight, safe to resume
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are never
// picked up by workers or the recovery service.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Well-known stage names for the document ingestion product.
// Stage order is carried on the job itself, not derived from these names.
const (
	StageDiscovery    = "discovery"
	StageChunk        = "chunk"
	StageImageExtract = "image_extract"
	StageEmbed        = "embed"
	StageEntityCreate = "entity_create"
)

// Stage describes one unit of pipeline work. Pooled lists component pools
// the stage draws from; Managed lists heavy components constructed for the
// duration of the stage and released afterwards.
type Stage struct {
	Name       string   `json:"name"`
	Idempotent bool     `json:"idempotent,omitempty"`
	Pooled     []string `json:"pooled,omitempty"`
	Managed    []string `json:"managed,omitempty"`
}

// StageList is an ordered list of stages, stored as a JSON column.
type StageList []Stage

// Value implements driver.Valuer for database serialization.
func (l StageList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StageList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("pipeline: cannot scan %T into StageList", src)
	}
}

// DefaultStages returns the stage list for document ingestion jobs.
func DefaultStages() StageList {
	return StageList{
		{Name: StageDiscovery},
		{Name: StageChunk, Managed: []string{"chunker"}},
		{Name: StageImageExtract, Managed: []string{"image-extractor"}},
		{Name: StageEmbed, Pooled: []string{"embedder"}},
		{Name: StageEntityCreate, Pooled: []string{"classifier"}},
	}
}

// Job is a single document run through the pipeline. Rows are owned by the
// Registry and mutated only through it.
type Job struct {
	ID           string    `gorm:"primaryKey;size:36"`
	DocumentRef  string    `gorm:"index;size:512;not null"`
	Stages       StageList `gorm:"type:bytes"`
	CurrentStage int       `gorm:"default:0"` // Index of the next stage to run
	Status       JobStatus `gorm:"index;size:20;default:'pending'"`
	LastError    string    `gorm:"type:text"`

	// Name of the last durably checkpointed stage, maintained alongside
	// CurrentStage; the checkpoint store remains the source of truth.
	LastCheckpointStage string `gorm:"size:64"`

	// Worker lease. A job is runnable when unlocked or the lease expired.
	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// StageAt returns the stage at index i.
func (j *Job) StageAt(i int) (Stage, bool) {
	if i < 0 || i >= len(j.Stages) {
		return Stage{}, false
	}
	return j.Stages[i], true
}

// Progress reports completed stages as a fraction of the total.
func (j *Job) Progress() float64 {
	if len(j.Stages) == 0 {
		return 0
	}
	done := j.CurrentStage
	if done > len(j.Stages) {
		done = len(j.Stages)
	}
	return float64(done) / float64(len(j.Stages))
}

// OutputRefs are opaque identifiers of artifacts a stage produced and
// persisted externally, keyed by artifact kind (e.g. "chunk", "image").
type OutputRefs map[string][]string

// Value implements driver.Valuer.
func (r OutputRefs) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *OutputRefs) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	case nil:
		*r = nil
		return nil
	default:
		return fmt.Errorf("pipeline: cannot scan %T into OutputRefs", src)
	}
}

// Metadata is free-form checkpoint metadata, stored as JSON.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = nil
		return nil
	default:
		return fmt.Errorf("pipeline: cannot scan %T into Metadata", src)
	}
}

// Checkpoint records that a stage completed for a job, including references
// to the artifacts it produced. Checkpoints are append-only and strictly
// contiguous in stage order per job.
type Checkpoint struct {
	ID         string     `gorm:"primaryKey;size:36"`
	JobID      string     `gorm:"uniqueIndex:idx_checkpoints_job_stage;size:36;not null"`
	StageIndex int        `gorm:"uniqueIndex:idx_checkpoints_job_stage;not null"`
	StageName  string     `gorm:"size:64;not null"`
	OutputRefs OutputRefs `gorm:"type:bytes"`
	Meta       Metadata   `gorm:"type:bytes"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

// MemorySample is one instantaneous reading of process memory.
// Samples tagged with a job id may be persisted for the admin history view;
// the tracker additionally keeps a bounded in-memory ring of recent samples.
type MemorySample struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	JobID     string    `gorm:"index;size:36" json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RSS       uint64    `json:"rss"`
	VMS       uint64    `json:"vms"`
	Percent   float64   `json:"percent"`
	Tag       string    `gorm:"size:128" json:"tag,omitempty"`
}
