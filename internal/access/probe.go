package access

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"transcode-bridge/internal/domain"
)

// Probe reports the host's permission model.
type Probe interface {
	Tier() domain.AccessTier
	HostVersion() string
}

// HostProbe classifies the current OS, honouring an explicit override.
type HostProbe struct {
	GOOS     string
	GOARCH   string
	Override domain.AccessTier
}

// NewHostProbe creates a probe for this process with an optional tier override.
func NewHostProbe(override string) HostProbe {
	return HostProbe{
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		Override: domain.AccessTier(strings.TrimSpace(override)),
	}
}

// Tier returns the override when valid, else the OS default.
func (p HostProbe) Tier() domain.AccessTier {
	if p.Override.Valid() {
		return p.Override
	}
	switch p.GOOS {
	case "darwin":
		return domain.AccessTierSettingsRedirect
	case "windows":
		return domain.AccessTierExplicitDialog
	default:
		return domain.AccessTierLegacyImplicit
	}
}

// HostVersion identifies the host platform.
func (p HostProbe) HostVersion() string {
	return p.GOOS + "/" + p.GOARCH
}

// Dialog asks the user a yes/no question.
type Dialog interface {
	Ask(ctx context.Context, title, message string) (bool, error)
}

// SettingsOpener launches a settings URI on the host.
type SettingsOpener interface {
	Open(ctx context.Context, uri string) error
}

// ExecOpener launches URIs with the platform opener command.
type ExecOpener struct {
	GOOS string
}

// Open starts the opener and does not wait for it.
func (o ExecOpener) Open(_ context.Context, uri string) error {
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var cmd *exec.Cmd
	switch goos {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("explorer", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", uri, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// AccessChecker reports whether the protected public area is usable now.
type AccessChecker interface {
	CanAccess(ctx context.Context) bool
}

// DirChecker probes access by listing a directory.
type DirChecker struct {
	Dir string
}

// CanAccess lists the nearest existing ancestor of Dir.
func (c DirChecker) CanAccess(context.Context) bool {
	dir := strings.TrimSpace(c.Dir)
	if dir == "" {
		return false
	}
	for {
		if _, err := os.ReadDir(dir); err == nil {
			return true
		} else if !os.IsNotExist(err) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
