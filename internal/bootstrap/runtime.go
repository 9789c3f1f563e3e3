package bootstrap

import (
	"context"
	"strings"

	"transcode-bridge/internal/access"
	"transcode-bridge/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// EventAppSettings asks the frontend to show its own settings page.
const EventAppSettings = "app:settings"

// emitRuntimeEvent forwards bus events to the frontend under their type name.
func (a *App) emitRuntimeEvent(event jobs.Event) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.EventsEmit(ctx, string(event.Type), event)
}

// setWindowTitle is a no-op until the window exists.
func (a *App) setWindowTitle(title string) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.WindowSetTitle(ctx, title)
}

// openRuntimeSettings is the last surface of the settings chain.
func (a *App) openRuntimeSettings(context.Context) error {
	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	wailsruntime.EventsEmit(ctx, EventAppSettings)
	return nil
}

// PickOutputDirectory opens a native directory picker for stage-out.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// runtimeDialog asks the access question with a native message box.
type runtimeDialog struct {
	app *App
}

func (d runtimeDialog) Ask(_ context.Context, title, message string) (bool, error) {
	ctx, err := d.app.runtimeContext()
	if err != nil {
		return false, err
	}
	answer, err := wailsruntime.MessageDialog(ctx, wailsruntime.MessageDialogOptions{
		Type:          wailsruntime.QuestionDialog,
		Title:         title,
		Message:       message,
		Buttons:       []string{"Yes", "No"},
		DefaultButton: "Yes",
		CancelButton:  "No",
	})
	if err != nil {
		return false, err
	}
	return answer == "Yes", nil
}

// outputDirChecker probes the output folder chosen in current settings.
type outputDirChecker struct {
	app *App
}

func (c outputDirChecker) CanAccess(ctx context.Context) bool {
	return access.DirChecker{Dir: c.app.outputDir()}.CanAccess(ctx)
}
