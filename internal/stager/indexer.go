package stager

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Indexer announces a new public file to the host's media index.
type Indexer interface {
	Index(ctx context.Context, path, mimeType string) error
}

// NopIndexer skips indexing.
type NopIndexer struct{}

// Index does nothing.
func (NopIndexer) Index(context.Context, string, string) error {
	return nil
}

// CommandIndexer runs the platform indexer binary when it is on PATH.
type CommandIndexer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandIndexer creates an indexer for the current platform.
func NewCommandIndexer() *CommandIndexer {
	return &CommandIndexer{
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Index asks the platform indexer to pick up path.
func (c *CommandIndexer) Index(ctx context.Context, path, mimeType string) error {
	args := indexArgs(c.goos, path)
	if len(args) == 0 {
		return nil
	}
	bin, err := c.lookPath(args[0])
	if err != nil {
		// No indexer installed.
		return nil
	}
	out, err := c.run(ctx, bin, args[1:]...)
	if err != nil {
		return fmt.Errorf("%s %s (%s): %w: %s", args[0], path, mimeType, err, trimOutput(string(out)))
	}
	return nil
}

func indexArgs(goos, path string) []string {
	switch goos {
	case "darwin":
		return []string{"mdimport", path}
	case "linux":
		return []string{"tracker3", "index", "--file", path}
	default:
		return nil
	}
}

// trimOutput normalizes and truncates command output for compact errors.
func trimOutput(raw string) string {
	output := strings.TrimSpace(raw)
	if len(output) <= 500 {
		return output
	}
	return output[:500] + "..."
}
