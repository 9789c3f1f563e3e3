package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/jobs"
)

const (
	settingsOpenedMessage = "Settings opened. Please grant permission."
	defaultRecentJobs     = 20
)

// recoverFault turns a panic in a bound method into a structured internal failure.
func recoverFault(op string, fail func(err error)) {
	if r := recover(); r != nil {
		log.Error().Str("op", op).Interface("panic", r).Msg("bridge call panicked")
		fail(domain.NewError(domain.KindInternal, fmt.Sprintf("internal error: %v", r), nil))
	}
}

// Execute runs command and waits for it to finish.
func (a *App) Execute(command string) (result domain.JobResult) {
	defer recoverFault("execute", func(err error) {
		result = domain.JobResult{Error: err.Error(), Kind: domain.KindOf(err), ReturnCode: -1}
	})
	return a.Jobs.StartSync(context.Background(), command)
}

// ExecuteAsync starts command and returns once it is dispatched.
func (a *App) ExecuteAsync(command string) (result domain.ExecuteAsyncResult) {
	defer recoverFault("execute_async", func(err error) {
		result = domain.ExecuteAsyncResult{Error: err.Error(), Kind: domain.KindOf(err)}
	})
	job, err := a.Jobs.StartAsync(command)
	if err != nil {
		return domain.ExecuteAsyncResult{Error: err.Error(), Kind: domain.KindOf(err)}
	}
	return domain.ExecuteAsyncResult{Started: true, JobID: job.ID}
}

// Cancel signals the active job.
func (a *App) Cancel() (result domain.CancelResult) {
	defer recoverFault("cancel", func(error) { result = domain.CancelResult{} })
	return domain.CancelResult{Cancelled: a.Jobs.Cancel()}
}

// StartProcessing acquires the keep-awake token ahead of async work.
func (a *App) StartProcessing() (result domain.OperationResult) {
	defer recoverFault("start_processing", func(err error) { result = domain.Failure(err) })
	a.Jobs.BeginKeepAwake()
	return domain.OperationResult{Success: true}
}

// StageIn copies uri into the private working area.
func (a *App) StageIn(uri string) (result domain.StageInResult) {
	defer recoverFault("stage_in", func(err error) {
		result = domain.StageInResult{Error: err.Error(), Kind: domain.KindOf(err)}
	})
	staged, err := a.Stager.StageIn(context.Background(), uri)
	if err != nil {
		return domain.StageInResult{Error: err.Error(), Kind: domain.KindOf(err)}
	}
	return domain.StageInResult{
		Success:      true,
		Path:         staged.LocalPath,
		OriginalName: staged.OriginalName,
	}
}

// StageOut moves source into destFolder (or the output folder) as filename.
func (a *App) StageOut(source, filename, destFolder string) (result domain.StageOutResult) {
	defer recoverFault("stage_out", func(err error) {
		result = domain.StageOutResult{Error: err.Error(), Kind: domain.KindOf(err)}
	})
	out, err := a.Stager.StageOut(context.Background(), source, filename, destFolder)
	if err != nil {
		return domain.StageOutResult{Error: err.Error(), Kind: domain.KindOf(err)}
	}
	return out
}

// CheckAccess reports the storage access state for this host.
func (a *App) CheckAccess() (status domain.AccessStatus) {
	defer recoverFault("check_access", func(error) { status = domain.AccessStatus{} })
	return a.Access.CheckAccess(context.Background())
}

// RequestAccess runs the host's access request flow.
func (a *App) RequestAccess() (result domain.AccessRequestResult) {
	defer recoverFault("request_access", func(err error) {
		result = domain.AccessRequestResult{Outcome: domain.AccessOutcomeUnavailable, Error: err.Error(), Kind: domain.KindOf(err)}
	})
	outcome, err := a.Access.RequestAccess(context.Background())
	result = domain.AccessRequestResult{
		Outcome: outcome,
		Granted: outcome == domain.AccessOutcomeGranted,
		Opened:  outcome == domain.AccessOutcomeOpened,
	}
	if outcome == domain.AccessOutcomeOpened {
		result.Message = settingsOpenedMessage
	}
	if err != nil {
		result.Error = err.Error()
		result.Kind = domain.KindOf(err)
	}
	return result
}

// OpenAppSettings shows the application's own settings page.
func (a *App) OpenAppSettings() (result domain.OperationResult) {
	defer recoverFault("open_app_settings", func(err error) { result = domain.Failure(err) })
	if err := a.Access.OpenAppSettings(context.Background()); err != nil {
		return domain.Failure(err)
	}
	return domain.OperationResult{Success: true}
}

// ShowStatus updates the progress indicator.
func (a *App) ShowStatus(progress, current, total int) (result domain.OperationResult) {
	defer recoverFault("show_status", func(err error) { result = domain.Failure(err) })
	a.Status.Show(progress, current, total)
	return domain.OperationResult{Success: true}
}

// HideStatus removes the progress indicator and ends keep-awake.
func (a *App) HideStatus() (result domain.OperationResult) {
	defer recoverFault("hide_status", func(err error) { result = domain.Failure(err) })
	a.Status.Hide()
	a.Jobs.EndKeepAwake()
	return domain.OperationResult{Success: true}
}

// CurrentJob returns current job metadata and state.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Jobs.Events(sinceSeq)
}

// RecentJobs lists finished jobs, newest first.
func (a *App) RecentJobs(limit int) ([]domain.Job, error) {
	if a.History == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentJobs
	}
	out, err := a.History.Recent(context.Background(), limit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs: %w", err)
	}
	return out, nil
}

// OutputPath reserves a fresh engine output path in the private area.
func (a *App) OutputPath(ext string) (result domain.StageInResult) {
	defer recoverFault("output_path", func(err error) {
		result = domain.StageInResult{Error: err.Error(), Kind: domain.KindOf(err)}
	})
	p, err := a.Stager.OutputPath(strings.TrimSpace(ext))
	if err != nil {
		return domain.StageInResult{Error: err.Error(), Kind: domain.KindOf(err)}
	}
	return domain.StageInResult{Success: true, Path: p}
}
