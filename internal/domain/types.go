package domain

import "time"

// JobState tracks the lifecycle of one transcoding attempt.
type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStateStarting  JobState = "starting"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsActive reports whether the state occupies the single job slot.
func (s JobState) IsActive() bool {
	return s == JobStateStarting || s == JobStateRunning
}

// IsTerminal reports whether the state is final for its job.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Progress is one engine statistics snapshot.
type Progress struct {
	ElapsedTime  int64   `json:"time"`
	ProducedSize int64   `json:"size"`
	Bitrate      float64 `json:"bitrate"`
	Speed        float64 `json:"speed"`
}

// Job stores the current job identity, command and lifecycle status.
type Job struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"`
	State        JobState   `json:"state"`
	LastProgress Progress   `json:"lastProgress"`
	ReturnCode   *int       `json:"returnCode,omitempty"`
	ErrorDetail  string     `json:"errorDetail,omitempty"`
	Output       string     `json:"output,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir      string         `json:"outputDir"`
	AccessDecision AccessDecision `json:"accessDecision,omitempty"`
}

// KeepAwakeToken is a snapshot of the stay-awake guarantee.
type KeepAwakeToken struct {
	Held       bool          `json:"held"`
	AcquiredAt time.Time     `json:"acquiredAt,omitempty"`
	Ceiling    time.Duration `json:"ceiling"`
}

// StagedFile is a file copied into the private working area.
type StagedFile struct {
	SourceRef    string `json:"sourceRef"`
	LocalPath    string `json:"path"`
	OriginalName string `json:"originalName"`
}
