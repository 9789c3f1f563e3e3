package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/lo"

	"transcode-bridge/internal/domain"
)

// Targets names the host resources the bridge depends on.
type Targets struct {
	FFmpegBinary    string
	PrivateDir      string
	KeepAwakeHelper string
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	targets    Targets
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(targets Targets) *Checker {
	return &Checker{
		targets:    targets,
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	binary := c.targets.FFmpegBinary
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}

	items := []domain.DiagnosticItem{
		c.checkEngine(binary),
		c.checkWritableDir(domain.DiagnosticPrivateDir, "Working directory", c.targets.PrivateDir,
			"Staged inputs and engine outputs are written here."),
		c.checkWritableDir(domain.DiagnosticOutputDir, "Output directory", settings.OutputDir,
			"Finished videos are moved here."),
		c.checkKeepAwake(c.targets.KeepAwakeHelper),
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkEngine verifies the engine executable is resolvable.
func (c *Checker) checkEngine(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      domain.DiagnosticEngine,
			Name:    "Transcoding engine",
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Engine not found: %s", name),
			Hint:    "Install ffmpeg or set ffmpeg_path before starting a job.",
		}
	}

	return domain.DiagnosticItem{
		ID:      domain.DiagnosticEngine,
		Name:    "Transcoding engine",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkKeepAwake reports whether the sleep inhibitor helper exists. A missing helper only warns.
func (c *Checker) checkKeepAwake(helper string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticKeepAwake,
		Name: "Keep-awake helper",
	}

	if strings.TrimSpace(helper) == "" {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "No helper needed on this platform."
		return item
	}

	path, err := c.lookPath(helper)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Helper not found: %s", helper)
		item.Hint = "Long jobs may be interrupted if the machine sleeps."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	targets Targets,
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		targets:    targets,
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
