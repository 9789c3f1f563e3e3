package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"
)

const (
	defaultOutputLimit = 64 * 1024
	defaultWaitDelay   = 3 * time.Second
)

// FFmpegEngine runs command lines through a local ffmpeg binary.
type FFmpegEngine struct {
	binary      string
	outputLimit int
	waitDelay   time.Duration
	lookPath    func(string) (string, error)
}

// NewFFmpegEngine creates an engine that invokes binary ("ffmpeg" when empty).
func NewFFmpegEngine(binary string) *FFmpegEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegEngine{
		binary:      binary,
		outputLimit: defaultOutputLimit,
		waitDelay:   defaultWaitDelay,
		lookPath:    exec.LookPath,
	}
}

// Binary returns the configured ffmpeg binary.
func (e *FFmpegEngine) Binary() string {
	return e.binary
}

// Available reports whether the binary resolves on this host.
func (e *FFmpegEngine) Available() bool {
	_, err := e.lookPath(e.binary)
	return err == nil
}

// Execute runs command and blocks until it finishes.
func (e *FFmpegEngine) Execute(ctx context.Context, command string) Session {
	args, err := ParseCommand(command)
	if err != nil {
		return Session{ReturnCode: ReturnCodeStartFailure, FailTrace: err.Error()}
	}
	return e.run(ctx, args, Callbacks{})
}

// ExecuteAsync starts command on a goroutine and returns a cancel handle.
func (e *FFmpegEngine) ExecuteAsync(command string, cb Callbacks) (Handle, error) {
	args, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		session := e.run(ctx, args, cb)
		if cb.OnComplete != nil {
			cb.OnComplete(session)
		}
	}()
	return cancelHandle(cancel), nil
}

type cancelHandle context.CancelFunc

// Cancel stops the session; repeated calls are no-ops.
func (h cancelHandle) Cancel() {
	h()
}

// run executes one ffmpeg process with progress on stdout and logs on stderr.
func (e *FFmpegEngine) run(ctx context.Context, args []string, cb Callbacks) Session {
	full := append(progressArgs(), args...)
	cmd := exec.CommandContext(ctx, e.binary, full...)
	cmd.WaitDelay = e.waitDelay

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	log.Debug().Str("binary", e.binary).Strs("args", full).Msg("engine start")
	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return Session{ReturnCode: ReturnCodeStartFailure, FailTrace: err.Error()}
	}

	tail := newTailBuffer(e.outputLimit)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readProgress(outR, cb.OnProgress)
		_, _ = io.Copy(io.Discard, outR)
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(errR)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			tail.WriteLine(line)
			if cb.OnLog != nil {
				cb.OnLog(line)
			}
		}
		_, _ = io.Copy(io.Discard, errR)
	}()

	waitErr := cmd.Wait()
	_ = outW.Close()
	_ = errW.Close()
	wg.Wait()

	session := Session{Output: tail.String()}
	// A process that exited before the cancel keeps its own result.
	switch {
	case waitErr == nil:
		session.ReturnCode = ReturnCodeSuccess
	case ctx.Err() != nil:
		session.ReturnCode = ReturnCodeCancel
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() > 0 {
			session.ReturnCode = exitErr.ExitCode()
		} else {
			session.ReturnCode = ReturnCodeStartFailure
			session.FailTrace = waitErr.Error()
		}
	}

	log.Debug().Int("rc", session.ReturnCode).Msg("engine finished")
	return session
}

// ParseCommand splits a command line into ffmpeg arguments.
// A leading ffmpeg program name is dropped.
func ParseCommand(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) > 0 && isFFmpegName(args[0]) {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command has no arguments")
	}
	return args, nil
}

func isFFmpegName(arg string) bool {
	base := strings.ToLower(filepath.Base(arg))
	return base == "ffmpeg" || base == "ffmpeg.exe"
}

// progressArgs routes machine-readable statistics to stdout.
func progressArgs() []string {
	return []string{"-progress", "pipe:1", "-nostats"}
}

// tailBuffer keeps the last limit bytes of written lines.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
