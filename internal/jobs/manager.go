package jobs

import (
	"errors"
	"sync"
	"time"

	"transcode-bridge/internal/domain"
)

// ErrJobAlreadyActive is returned when starting a second active job.
var ErrJobAlreadyActive = errors.New("a job is already active")

// ErrNoActiveJob is returned when cancel is requested for idle state.
var ErrNoActiveJob = errors.New("no active job")

// FinishParams carries the terminal data for one job.
type FinishParams struct {
	State       domain.JobState
	ReturnCode  int
	ErrorDetail string
	Output      string
	FinishedAt  time.Time
}

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu              sync.RWMutex
	current         domain.Job
	cancelRequested bool
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			State: domain.JobStateIdle,
		},
	}
}

// Start registers job in starting state.
func (m *Manager) Start(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State.IsActive() {
		return ErrJobAlreadyActive
	}

	m.current = domain.Job{
		ID:        job.ID,
		Command:   job.Command,
		State:     domain.JobStateStarting,
		StartedAt: job.StartedAt,
	}
	m.cancelRequested = false
	return nil
}

// MarkRunning records the engine acknowledgement for job id.
func (m *Manager) MarkRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, domain.JobStateRunning)
}

// RecordProgress stores a snapshot for an active job. A regressing snapshot is dropped.
// The first snapshot of a starting job also counts as its acknowledgement.
func (m *Manager) RecordProgress(id string, p domain.Progress) (domain.Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID != id || !m.current.State.IsActive() {
		return domain.Progress{}, false
	}
	if p.ElapsedTime < m.current.LastProgress.ElapsedTime {
		return domain.Progress{}, false
	}
	if m.current.State == domain.JobStateStarting {
		m.transitionLocked(id, domain.JobStateRunning)
	}
	m.current.LastProgress = p
	return p, true
}

// Finish moves job id to a terminal state. Only the first terminal report wins.
func (m *Manager) Finish(id string, params FinishParams) (domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID != id || !params.State.IsTerminal() || m.current.State.IsTerminal() {
		return m.current, false
	}
	if !m.transitionLocked(id, params.State) {
		return m.current, false
	}

	code := params.ReturnCode
	finishedAt := params.FinishedAt
	m.current.ReturnCode = &code
	m.current.ErrorDetail = params.ErrorDetail
	m.current.Output = params.Output
	m.current.FinishedAt = &finishedAt
	m.cancelRequested = false
	return m.current, true
}

// RequestCancel marks the active job for cancellation.
// first is false when a cancel was already requested for the same job.
func (m *Manager) RequestCancel() (id string, first bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.State.IsActive() {
		return "", false, ErrNoActiveJob
	}
	first = !m.cancelRequested
	m.cancelRequested = true
	return m.current.ID, first, nil
}

// CancelRequested reports whether job id has a pending cancel.
func (m *Manager) CancelRequested(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ID == id && m.cancelRequested
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsActive reports whether a job occupies the slot.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State.IsActive()
}

// Reset clears a terminal job and returns manager to idle.
func (m *Manager) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State.IsActive() {
		return false
	}
	m.current = domain.Job{State: domain.JobStateIdle}
	m.cancelRequested = false
	return true
}

func (m *Manager) transitionLocked(id string, to domain.JobState) bool {
	if m.current.ID != id {
		return false
	}
	if m.current.State == to {
		return true
	}
	if !isValidTransition(m.current.State, to) {
		return false
	}
	m.current.State = to
	return true
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateStarting:
		return to == domain.JobStateRunning || to.IsTerminal()
	case domain.JobStateRunning:
		return to.IsTerminal()
	default:
		return false
	}
}
