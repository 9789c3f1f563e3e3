package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/engine"
)

// fakeEngine simulates engine behavior through injected funcs.
type fakeEngine struct {
	execute      func(ctx context.Context, command string) engine.Session
	executeAsync func(command string, cb engine.Callbacks) (engine.Handle, error)
}

func (f *fakeEngine) Execute(ctx context.Context, command string) engine.Session {
	if f.execute == nil {
		return engine.Session{}
	}
	return f.execute(ctx, command)
}

func (f *fakeEngine) ExecuteAsync(command string, cb engine.Callbacks) (engine.Handle, error) {
	return f.executeAsync(command, cb)
}

type fakeHandle struct {
	mu      sync.Mutex
	cancels int
}

func (h *fakeHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
}

func (h *fakeHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancels
}

type fakeGuard struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (g *fakeGuard) Acquire(time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	g.acquires++
	return true
}

func (g *fakeGuard) Release() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return false
	}
	g.held = false
	g.releases++
	return true
}

func (g *fakeGuard) isHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (r *fakeRecorder) Record(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func newTestController(eng engine.Engine, guard KeepAwake, rec Recorder) *Controller {
	seq := 0
	return NewController(Options{
		Engine:    eng,
		KeepAwake: guard,
		Bus:       NewEventBus(100),
		Recorder:  rec,
		NewID: func() string {
			seq++
			return "job-" + string(rune('0'+seq))
		},
	})
}

// waitForState polls until the current job reaches state or times out.
func waitForState(t *testing.T, c *Controller, state domain.JobState) domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job := c.Current()
		if job.State == state {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.Current().State, state)
	return domain.Job{}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestStartSyncSuccessReleasesGuard(t *testing.T) {
	guard := &fakeGuard{}
	rec := &fakeRecorder{}
	eng := &fakeEngine{execute: func(ctx context.Context, command string) engine.Session {
		if !guard.isHeld() {
			t.Errorf("guard not held during execution")
		}
		return engine.Session{ReturnCode: 0, Output: "done"}
	}}
	c := newTestController(eng, guard, rec)

	result := c.StartSync(context.Background(), "-i a.mp4 b.mp4")
	if !result.Success || result.Output != "done" || result.ReturnCode != 0 {
		t.Fatalf("result = %+v, want success", result)
	}
	if guard.isHeld() || guard.releases != 1 {
		t.Fatalf("guard held = %v releases = %d, want released once", guard.isHeld(), guard.releases)
	}
	if len(rec.jobs) != 1 || rec.jobs[0].State != domain.JobStateCompleted {
		t.Fatalf("recorded = %+v", rec.jobs)
	}
	if n := len(eventsOfType(c.Events(0), EventTypeComplete)); n != 1 {
		t.Fatalf("complete events = %d, want 1", n)
	}
}

func TestStartSyncFailureMessages(t *testing.T) {
	cases := []struct {
		name    string
		session engine.Session
		want    string
		kind    domain.ErrorKind
	}{
		{
			name:    "fail trace",
			session: engine.Session{ReturnCode: 1, FailTrace: "exec: not found"},
			want:    "FFmpeg failed with return code 1: exec: not found",
			kind:    domain.KindEngineFailure,
		},
		{
			name:    "output tail",
			session: engine.Session{ReturnCode: 234, Output: strings.Repeat("x", 600) + "END"},
			want:    "FFmpeg failed with return code 234. Output: " + strings.Repeat("x", 497) + "END",
			kind:    domain.KindEngineFailure,
		},
		{
			name:    "bare",
			session: engine.Session{ReturnCode: 2},
			want:    "FFmpeg failed with return code 2",
			kind:    domain.KindEngineFailure,
		},
		{
			name:    "cancelled",
			session: engine.Session{ReturnCode: engine.ReturnCodeCancel},
			want:    "Command cancelled",
			kind:    domain.KindEngineCancelled,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			guard := &fakeGuard{}
			eng := &fakeEngine{execute: func(context.Context, string) engine.Session { return tc.session }}
			c := newTestController(eng, guard, nil)

			result := c.StartSync(context.Background(), "-i a b")
			if result.Success {
				t.Fatal("result.Success = true")
			}
			if result.Error != tc.want {
				t.Fatalf("error = %q, want %q", result.Error, tc.want)
			}
			if result.Kind != tc.kind {
				t.Fatalf("kind = %q, want %q", result.Kind, tc.kind)
			}
			if guard.isHeld() {
				t.Fatal("guard still held after failure")
			}
		})
	}
}

func TestStartSyncRecoversEnginePanic(t *testing.T) {
	guard := &fakeGuard{}
	eng := &fakeEngine{execute: func(context.Context, string) engine.Session { panic("boom") }}
	c := newTestController(eng, guard, nil)

	result := c.StartSync(context.Background(), "-i a b")
	if result.Success || !strings.Contains(result.Error, "boom") {
		t.Fatalf("result = %+v, want failure mentioning panic", result)
	}
	if guard.isHeld() {
		t.Fatal("guard still held after panic")
	}
	if c.Current().State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", c.Current().State)
	}
}

func TestStartSyncRejectsEmptyCommand(t *testing.T) {
	guard := &fakeGuard{}
	c := newTestController(&fakeEngine{}, guard, nil)

	result := c.StartSync(context.Background(), "  ")
	if result.Kind != domain.KindInvalidInput {
		t.Fatalf("kind = %q, want invalid_input", result.Kind)
	}
	if guard.acquires != 0 {
		t.Fatal("guard acquired for empty command")
	}
}

func TestStartSyncCancel(t *testing.T) {
	guard := &fakeGuard{}
	running := make(chan struct{})
	eng := &fakeEngine{execute: func(ctx context.Context, _ string) engine.Session {
		close(running)
		<-ctx.Done()
		return engine.Session{ReturnCode: engine.ReturnCodeCancel}
	}}
	c := newTestController(eng, guard, nil)

	done := make(chan domain.JobResult, 1)
	go func() { done <- c.StartSync(context.Background(), "-i a b") }()

	<-running
	if !c.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}

	select {
	case result := <-done:
		if result.Kind != domain.KindEngineCancelled || result.ReturnCode != engine.ReturnCodeCancel {
			t.Fatalf("result = %+v, want cancelled", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartSync did not return after cancel")
	}
}

func TestStartAsyncRelaysProgressThenSingleComplete(t *testing.T) {
	var cb engine.Callbacks
	handle := &fakeHandle{}
	eng := &fakeEngine{executeAsync: func(command string, callbacks engine.Callbacks) (engine.Handle, error) {
		cb = callbacks
		return handle, nil
	}}
	guard := &fakeGuard{}
	c := newTestController(eng, guard, nil)

	job, err := c.StartAsync("-i a b")
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	if job.State != domain.JobStateStarting {
		t.Fatalf("state = %s, want starting", job.State)
	}
	if guard.acquires != 0 {
		t.Fatal("StartAsync touched the guard")
	}

	cb.OnProgress(domain.Progress{ElapsedTime: 100})
	cb.OnProgress(domain.Progress{ElapsedTime: 50})
	cb.OnProgress(domain.Progress{ElapsedTime: 200})
	cb.OnComplete(engine.Session{ReturnCode: 0, Output: "ok"})
	cb.OnComplete(engine.Session{ReturnCode: 1})
	cb.OnProgress(domain.Progress{ElapsedTime: 300})

	events := c.Events(0)
	progress := eventsOfType(events, EventTypeProgress)
	if len(progress) != 2 || progress[0].Progress.ElapsedTime != 100 || progress[1].Progress.ElapsedTime != 200 {
		t.Fatalf("progress events = %+v", progress)
	}
	complete := eventsOfType(events, EventTypeComplete)
	if len(complete) != 1 || !complete[0].Result.Success {
		t.Fatalf("complete events = %+v, want one success", complete)
	}
	if complete[0].Seq < progress[1].Seq {
		t.Fatal("complete published before last progress")
	}
	if c.Current().State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", c.Current().State)
	}
}

func TestStartAsyncRejectsSecondJob(t *testing.T) {
	eng := &fakeEngine{executeAsync: func(string, engine.Callbacks) (engine.Handle, error) {
		return &fakeHandle{}, nil
	}}
	c := newTestController(eng, &fakeGuard{}, nil)

	first, err := c.StartAsync("-i a b")
	if err != nil {
		t.Fatalf("first StartAsync() error = %v", err)
	}
	_, err = c.StartAsync("-i c d")
	if domain.KindOf(err) != domain.KindAlreadyActive {
		t.Fatalf("second StartAsync() kind = %q, want already_active", domain.KindOf(err))
	}
	if c.Current().ID != first.ID {
		t.Fatalf("active job replaced")
	}
}

func TestStartAsyncDispatchFailureReportsComplete(t *testing.T) {
	eng := &fakeEngine{executeAsync: func(string, engine.Callbacks) (engine.Handle, error) {
		return nil, errors.New("parse command: invalid quote")
	}}
	c := newTestController(eng, &fakeGuard{}, nil)

	if _, err := c.StartAsync(`-i "broken`); err != nil {
		t.Fatalf("StartAsync() error = %v, want nil", err)
	}
	complete := eventsOfType(c.Events(0), EventTypeComplete)
	if len(complete) != 1 || complete[0].Result.Success {
		t.Fatalf("complete events = %+v, want one failure", complete)
	}
	if !strings.Contains(complete[0].Result.Error, "invalid quote") {
		t.Fatalf("error = %q", complete[0].Result.Error)
	}
	if c.Current().State.IsActive() {
		t.Fatal("slot still active after dispatch failure")
	}
}

func TestCancelAsyncSignalsOnce(t *testing.T) {
	var cb engine.Callbacks
	handle := &fakeHandle{}
	eng := &fakeEngine{executeAsync: func(command string, callbacks engine.Callbacks) (engine.Handle, error) {
		cb = callbacks
		return handle, nil
	}}
	c := newTestController(eng, &fakeGuard{}, nil)

	if c.Cancel() {
		t.Fatal("Cancel() with no job = true")
	}
	if _, err := c.StartAsync("-i a b"); err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	if !c.Cancel() || !c.Cancel() {
		t.Fatal("Cancel() on active job = false")
	}
	go cb.OnComplete(engine.Session{ReturnCode: engine.ReturnCodeCancel})

	job := waitForState(t, c, domain.JobStateCancelled)
	if job.ErrorDetail != "Command cancelled" {
		t.Fatalf("error detail = %q", job.ErrorDetail)
	}
	if handle.count() != 1 {
		t.Fatalf("handle cancels = %d, want 1", handle.count())
	}
	if c.Cancel() {
		t.Fatal("Cancel() after terminal = true")
	}
}

func TestCancelBeforeHandleIsDelivered(t *testing.T) {
	handle := &fakeHandle{}
	var c *Controller
	var cb engine.Callbacks
	eng := &fakeEngine{executeAsync: func(command string, callbacks engine.Callbacks) (engine.Handle, error) {
		cb = callbacks
		if !c.Cancel() {
			t.Error("Cancel() during dispatch = false")
		}
		return handle, nil
	}}
	c = newTestController(eng, &fakeGuard{}, nil)

	if _, err := c.StartAsync("-i a b"); err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	if handle.count() != 1 {
		t.Fatalf("handle cancels = %d, want 1", handle.count())
	}

	go cb.OnComplete(engine.Session{ReturnCode: engine.ReturnCodeCancel})
	waitForState(t, c, domain.JobStateCancelled)
	if got := eventsOfType(c.Events(0), EventTypeProgress); len(got) != 0 {
		t.Fatalf("progress events = %d, want 0", len(got))
	}
}

func TestCancelRacingSuccessKeepsCompleted(t *testing.T) {
	cases := []struct {
		name         string
		cancelFirst  bool
		wantCancelOK bool
	}{
		{name: "cancel after completion", cancelFirst: false, wantCancelOK: false},
		{name: "completion after cancel", cancelFirst: true, wantCancelOK: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cb engine.Callbacks
			eng := &fakeEngine{executeAsync: func(command string, callbacks engine.Callbacks) (engine.Handle, error) {
				cb = callbacks
				return &fakeHandle{}, nil
			}}
			c := newTestController(eng, &fakeGuard{}, nil)
			if _, err := c.StartAsync("-i a b"); err != nil {
				t.Fatalf("StartAsync() error = %v", err)
			}

			var cancelled bool
			if tc.cancelFirst {
				cancelled = c.Cancel()
			}
			cb.OnComplete(engine.Session{ReturnCode: engine.ReturnCodeSuccess, Output: "done"})
			if !tc.cancelFirst {
				cancelled = c.Cancel()
			}
			if cancelled != tc.wantCancelOK {
				t.Fatalf("Cancel() = %v, want %v", cancelled, tc.wantCancelOK)
			}

			if job := c.Current(); job.State != domain.JobStateCompleted {
				t.Fatalf("state = %s, want completed", job.State)
			}
			completes := eventsOfType(c.Events(0), EventTypeComplete)
			if len(completes) != 1 || completes[0].Result == nil || !completes[0].Result.Success {
				t.Fatalf("complete events = %+v, want one success", completes)
			}
		})
	}
}

func TestEarlyCompletionDoesNotStealNextHandle(t *testing.T) {
	first, second := &fakeHandle{}, &fakeHandle{}
	var c *Controller
	calls := 0
	eng := &fakeEngine{executeAsync: func(command string, cb engine.Callbacks) (engine.Handle, error) {
		calls++
		if calls == 1 {
			// Finishes before the handle is returned; the next job starts meanwhile.
			cb.OnComplete(engine.Session{ReturnCode: engine.ReturnCodeSuccess})
			if _, err := c.StartAsync("-i c d"); err != nil {
				t.Errorf("second StartAsync() error = %v", err)
			}
			return first, nil
		}
		return second, nil
	}}
	c = newTestController(eng, &fakeGuard{}, nil)

	if _, err := c.StartAsync("-i a b"); err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	if got := c.Current(); got.ID != "job-2" || got.State != domain.JobStateStarting {
		t.Fatalf("current = %s %s, want job-2 starting", got.ID, got.State)
	}
	if !c.Cancel() {
		t.Fatal("Cancel() on second job = false")
	}
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("cancels first=%d second=%d, want 0 and 1", first.count(), second.count())
	}
}

func TestKeepAwakeControl(t *testing.T) {
	guard := &fakeGuard{}
	c := newTestController(&fakeEngine{}, guard, nil)

	if !c.BeginKeepAwake() || c.BeginKeepAwake() {
		t.Fatal("BeginKeepAwake() not idempotent")
	}
	if !c.EndKeepAwake() || c.EndKeepAwake() {
		t.Fatal("EndKeepAwake() not idempotent")
	}
}
