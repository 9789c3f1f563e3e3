package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/engine"
	"transcode-bridge/internal/metrics"
)

// ErrEmptyCommand is returned when a job is submitted without a command.
var ErrEmptyCommand = errors.New("command is required")

const outputExcerptLimit = 500

// KeepAwake is the stay-awake token the controller owns.
type KeepAwake interface {
	Acquire(ceiling time.Duration) bool
	Release() bool
}

// Recorder persists terminal jobs.
type Recorder interface {
	Record(ctx context.Context, job domain.Job) error
}

// Options configures a Controller.
type Options struct {
	Engine           engine.Engine
	KeepAwake        KeepAwake
	Bus              *EventBus
	Recorder         Recorder
	Metrics          *metrics.Metrics
	KeepAwakeCeiling time.Duration
	NewID            func() string
	Now              func() time.Time
}

// Controller runs engine commands in the single job slot and relays their events.
type Controller struct {
	manager  *Manager
	engine   engine.Engine
	guard    KeepAwake
	bus      *EventBus
	recorder Recorder
	metrics  *metrics.Metrics
	ceiling  time.Duration
	newID    func() string
	now      func() time.Time

	mu       sync.Mutex
	handle   engine.Handle
	handleID string

	// eventMu orders progress and completion publishing for one job.
	eventMu sync.Mutex
}

// NewController wires a controller from opts.
func NewController(opts Options) *Controller {
	c := &Controller{
		manager:  NewManager(),
		engine:   opts.Engine,
		guard:    opts.KeepAwake,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		ceiling:  opts.KeepAwakeCeiling,
		newID:    opts.NewID,
		now:      opts.Now,
	}
	if c.bus == nil {
		c.bus = NewEventBus(0)
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.NewString() }
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Bus returns the controller's event bus.
func (c *Controller) Bus() *EventBus {
	return c.bus
}

// Current returns a snapshot of the current job.
func (c *Controller) Current() domain.Job {
	return c.manager.Current()
}

// Events returns buffered events after seq.
func (c *Controller) Events(since int64) []Event {
	return c.bus.Since(since)
}

// BeginKeepAwake acquires the stay-awake token if not held.
func (c *Controller) BeginKeepAwake() bool {
	if c.guard == nil {
		return false
	}
	return c.guard.Acquire(c.ceiling)
}

// EndKeepAwake releases the stay-awake token if held.
func (c *Controller) EndKeepAwake() bool {
	if c.guard == nil {
		return false
	}
	return c.guard.Release()
}

// StartSync runs command to completion while holding the stay-awake token.
func (c *Controller) StartSync(ctx context.Context, command string) domain.JobResult {
	job, err := c.register(command)
	if err != nil {
		return errorResult(err)
	}

	c.BeginKeepAwake()
	defer c.EndKeepAwake()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.attachHandle(job.ID, cancelFunc(cancel))
	defer c.detachHandle(job.ID)

	c.manager.MarkRunning(job.ID)
	c.publishState(job.ID, domain.JobStateRunning, "")
	log.Info().Str("job_id", job.ID).Str("mode", "sync").Msg("job started")

	session := c.executeSync(runCtx, command)
	final := c.complete(job.ID, "sync", session)
	return resultFor(final)
}

// StartAsync registers command and dispatches it without waiting for completion.
func (c *Controller) StartAsync(command string) (domain.Job, error) {
	job, err := c.register(command)
	if err != nil {
		return domain.Job{}, err
	}
	log.Info().Str("job_id", job.ID).Str("mode", "async").Msg("job started")

	handle, err := c.engine.ExecuteAsync(command, engine.Callbacks{
		OnProgress: func(p domain.Progress) { c.progress(job.ID, p) },
		OnLog:      func(line string) { c.logLine(job.ID, line) },
		OnComplete: func(s engine.Session) {
			c.detachHandle(job.ID)
			c.complete(job.ID, "async", s)
		},
	})
	if err != nil {
		// Dispatch failures are reported as the job's completion.
		c.complete(job.ID, "async", engine.Session{
			ReturnCode: engine.ReturnCodeStartFailure,
			FailTrace:  err.Error(),
		})
		return job, nil
	}
	c.attachHandle(job.ID, handle)
	return job, nil
}

// Cancel signals the engine for the active job. It returns false when no job is active.
func (c *Controller) Cancel() bool {
	id, first, err := c.manager.RequestCancel()
	if err != nil {
		return false
	}
	if !first {
		return true
	}

	c.mu.Lock()
	handle := c.handle
	if c.handleID != id {
		handle = nil
	}
	c.mu.Unlock()

	// Without a handle yet, attachHandle delivers the pending cancel.
	if handle != nil {
		handle.Cancel()
	}
	log.Info().Str("job_id", id).Msg("job cancel requested")
	return true
}

func (c *Controller) register(command string) (domain.Job, error) {
	if strings.TrimSpace(command) == "" {
		return domain.Job{}, domain.NewError(domain.KindInvalidInput, ErrEmptyCommand.Error(), ErrEmptyCommand)
	}

	job := domain.Job{
		ID:        c.newID(),
		Command:   command,
		StartedAt: c.now(),
	}
	if err := c.manager.Start(job); err != nil {
		return domain.Job{}, domain.NewError(domain.KindAlreadyActive, err.Error(), err)
	}
	c.metrics.SetJobActive(true)
	c.publishState(job.ID, domain.JobStateStarting, "")
	return c.manager.Current(), nil
}

// executeSync shields the slot from engine panics.
func (c *Controller) executeSync(ctx context.Context, command string) (session engine.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("engine panicked")
			session = engine.Session{
				ReturnCode: engine.ReturnCodeStartFailure,
				FailTrace:  fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return c.engine.Execute(ctx, command)
}

// attachHandle stores h only while job id still owns the slot.
func (c *Controller) attachHandle(id string, h engine.Handle) {
	if current := c.manager.Current(); current.ID != id || !current.State.IsActive() {
		return
	}

	c.mu.Lock()
	c.handle = h
	c.handleID = id
	c.mu.Unlock()

	if c.manager.CancelRequested(id) {
		h.Cancel()
	}
}

func (c *Controller) detachHandle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handleID == id {
		c.handle = nil
		c.handleID = ""
	}
}

func (c *Controller) progress(id string, p domain.Progress) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	snap, ok := c.manager.RecordProgress(id, p)
	if !ok {
		return
	}
	c.bus.Publish(Event{
		JobID:    id,
		Type:     EventTypeProgress,
		State:    domain.JobStateRunning,
		Progress: &snap,
	})
}

func (c *Controller) logLine(id string, line string) {
	log.Debug().Str("job_id", id).Msg(line)
	c.bus.Publish(Event{
		JobID:   id,
		Type:    EventTypeLog,
		Message: line,
	})
}

func (c *Controller) publishState(id string, state domain.JobState, message string) {
	c.bus.Publish(Event{
		JobID:   id,
		Type:    EventTypeStatus,
		State:   state,
		Message: message,
	})
}

// complete finishes job id from session and publishes its single completion event.
func (c *Controller) complete(id string, mode string, s engine.Session) domain.Job {
	state, detail := describeSession(s)

	c.eventMu.Lock()
	job, ok := c.manager.Finish(id, FinishParams{
		State:       state,
		ReturnCode:  s.ReturnCode,
		ErrorDetail: detail,
		Output:      s.Output,
		FinishedAt:  c.now(),
	})
	if ok {
		result := resultFor(job)
		c.bus.Publish(Event{
			JobID:  id,
			Type:   EventTypeComplete,
			State:  job.State,
			Result: &result,
		})
	}
	c.eventMu.Unlock()

	if !ok {
		return job
	}

	elapsed := time.Duration(0)
	if job.FinishedAt != nil {
		elapsed = job.FinishedAt.Sub(job.StartedAt)
	}
	c.metrics.SetJobActive(false)
	c.metrics.ObserveJob(mode, string(s.Outcome()), elapsed)

	if c.recorder != nil {
		if err := c.recorder.Record(context.Background(), job); err != nil {
			log.Warn().Err(err).Str("job_id", id).Msg("job history write failed")
		}
	}

	log.Info().
		Str("job_id", id).
		Str("mode", mode).
		Str("state", string(job.State)).
		Int("rc", s.ReturnCode).
		Dur("elapsed", elapsed).
		Msg("job finished")
	return job
}

// describeSession maps an engine session to a terminal state and error text.
func describeSession(s engine.Session) (domain.JobState, string) {
	switch s.Outcome() {
	case engine.OutcomeSuccess:
		return domain.JobStateCompleted, ""
	case engine.OutcomeCancelled:
		return domain.JobStateCancelled, "Command cancelled"
	}

	msg := fmt.Sprintf("FFmpeg failed with return code %d", s.ReturnCode)
	switch {
	case s.FailTrace != "":
		msg += ": " + s.FailTrace
	case s.Output != "":
		msg += ". Output: " + engine.Tail(s.Output, outputExcerptLimit)
	}
	return domain.JobStateFailed, msg
}

// resultFor builds the boundary result of a terminal job.
func resultFor(job domain.Job) domain.JobResult {
	result := domain.JobResult{
		Success: job.State == domain.JobStateCompleted,
		Output:  job.Output,
	}
	if job.ReturnCode != nil {
		result.ReturnCode = *job.ReturnCode
	}
	switch job.State {
	case domain.JobStateCancelled:
		result.Error = job.ErrorDetail
		result.Kind = domain.KindEngineCancelled
	case domain.JobStateFailed:
		result.Error = job.ErrorDetail
		result.Kind = domain.KindEngineFailure
	}
	return result
}

func errorResult(err error) domain.JobResult {
	return domain.JobResult{
		Success:    false,
		Error:      err.Error(),
		Kind:       domain.KindOf(err),
		ReturnCode: -1,
	}
}

type cancelFunc context.CancelFunc

// Cancel stops the synchronous run.
func (f cancelFunc) Cancel() {
	f()
}
