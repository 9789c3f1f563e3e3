package keepawake

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"transcode-bridge/internal/logx"
)

// Inhibitor asks the host to stay awake until release is called.
type Inhibitor interface {
	Inhibit(reason string) (release func() error, err error)
}

// NopInhibitor tracks the token without touching the host.
type NopInhibitor struct{}

// Inhibit returns a release func that does nothing.
func (NopInhibitor) Inhibit(string) (func() error, error) {
	return func() error { return nil }, nil
}

// ProcessInhibitor holds a host helper process alive for the duration of the token.
type ProcessInhibitor struct {
	goos     string
	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

// NewProcessInhibitor creates an inhibitor for the current platform.
func NewProcessInhibitor() *ProcessInhibitor {
	return &ProcessInhibitor{
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

// Available reports whether the platform helper can be found.
func (p *ProcessInhibitor) Available() bool {
	args := inhibitArgs(p.goos, "")
	if len(args) == 0 {
		return false
	}
	_, err := p.lookPath(args[0])
	return err == nil
}

// HelperName returns the helper binary used on this platform, or "".
func (p *ProcessInhibitor) HelperName() string {
	args := inhibitArgs(p.goos, "")
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// Inhibit starts the platform helper and returns a func that stops it.
func (p *ProcessInhibitor) Inhibit(reason string) (func() error, error) {
	args := inhibitArgs(p.goos, reason)
	if len(args) == 0 {
		return NopInhibitor{}.Inhibit(reason)
	}
	path, err := p.lookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", args[0], err)
	}

	cmd := p.command(path, args[1:]...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	lw := logx.NewLineWriter(map[string]string{"proc": args[0]}, zerolog.DebugLevel)
	go lw.Pipe(stderr)

	var once sync.Once
	var releaseErr error
	release := func() error {
		once.Do(func() {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				releaseErr = err
				return
			}
			// Wait reports the kill signal; only the reap matters.
			_ = cmd.Wait()
		})
		return releaseErr
	}
	return release, nil
}

// inhibitArgs returns the helper command line for goos, or nil when none exists.
func inhibitArgs(goos, reason string) []string {
	switch goos {
	case "darwin":
		return []string{"caffeinate", "-i"}
	case "linux":
		return []string{
			"systemd-inhibit",
			"--what=idle:sleep",
			"--who=transcode-bridge",
			"--why=" + reason,
			"--mode=block",
			"sleep", "infinity",
		}
	default:
		return nil
	}
}
