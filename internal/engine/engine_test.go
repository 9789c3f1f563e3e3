package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"transcode-bridge/internal/domain"
)

// TestProgressParserEmitsPerBlock checks key=value folding and unit stripping.
func TestProgressParserEmitsPerBlock(t *testing.T) {
	input := strings.Join([]string{
		"frame=10",
		"bitrate= 812.4kbits/s",
		"total_size=4096",
		"out_time_us=1500000",
		"out_time_ms=1500000",
		"speed=1.25x",
		"progress=continue",
		"bitrate=N/A",
		"total_size=8192",
		"out_time_us=3000000",
		"speed=N/A",
		"progress=end",
	}, "\n")

	var got []domain.Progress
	readProgress(strings.NewReader(input), func(p domain.Progress) {
		got = append(got, p)
	})

	if len(got) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(got))
	}
	first := got[0]
	if first.ElapsedTime != 1500 || first.ProducedSize != 4096 || first.Bitrate != 812.4 || first.Speed != 1.25 {
		t.Fatalf("first snapshot = %+v", first)
	}
	second := got[1]
	if second.ElapsedTime != 3000 || second.ProducedSize != 8192 || second.Bitrate != 0 || second.Speed != 0 {
		t.Fatalf("second snapshot = %+v", second)
	}
}

func TestParseCommand(t *testing.T) {
	args, err := ParseCommand(`ffmpeg -i "/tmp/my input.mp4" -c:v libx264 out.mp4`)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	want := []string{"-i", "/tmp/my input.mp4", "-c:v", "libx264", "out.mp4"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Fatalf("args = %q, want %q", args, want)
	}

	args, err = ParseCommand("-y -i a.mp4 b.mp4")
	if err != nil || args[0] != "-y" {
		t.Fatalf("ParseCommand(no program) = %q, %v", args, err)
	}

	for _, bad := range []string{"", "   ", "ffmpeg", `-i "unterminated`} {
		if _, err := ParseCommand(bad); err == nil {
			t.Fatalf("ParseCommand(%q) error = nil", bad)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := map[int]Outcome{
		0:   OutcomeSuccess,
		255: OutcomeCancelled,
		1:   OutcomeFailure,
		-1:  OutcomeFailure,
	}
	for code, want := range cases {
		if got := Classify(code); got != want {
			t.Fatalf("Classify(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := Tail("abcdef", 3); got != "def" {
		t.Fatalf("Tail = %q, want def", got)
	}
	if got := Tail("ab", 3); got != "ab" {
		t.Fatalf("Tail = %q, want ab", got)
	}
	if got := Tail("ab", 0); got != "" {
		t.Fatalf("Tail = %q, want empty", got)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(8)
	tb.WriteLine("12345")
	tb.WriteLine("abcde")
	if got := tb.String(); got != "5\nabcde\n" {
		t.Fatalf("tail = %q", got)
	}
}

// writeFakeFFmpeg installs a shell script standing in for ffmpeg.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func TestFFmpegEngineExecuteSuccess(t *testing.T) {
	bin := writeFakeFFmpeg(t, `
echo "stream mapping" 1>&2
echo "out_time_us=2000000"
echo "progress=end"
exit 0`)
	e := NewFFmpegEngine(bin)

	session := e.Execute(context.Background(), "ffmpeg -i in.mp4 out.mp4")
	if session.ReturnCode != ReturnCodeSuccess {
		t.Fatalf("rc = %d, want 0 (trace %q)", session.ReturnCode, session.FailTrace)
	}
	if !strings.Contains(session.Output, "stream mapping") {
		t.Fatalf("output = %q, want stderr captured", session.Output)
	}
}

func TestFFmpegEngineExecuteFailureCode(t *testing.T) {
	bin := writeFakeFFmpeg(t, `
echo "Invalid data found when processing input" 1>&2
exit 1`)
	e := NewFFmpegEngine(bin)

	session := e.Execute(context.Background(), "-i broken.mp4 out.mp4")
	if session.ReturnCode != 1 {
		t.Fatalf("rc = %d, want 1", session.ReturnCode)
	}
	if session.Outcome() != OutcomeFailure {
		t.Fatalf("outcome = %q, want failure", session.Outcome())
	}
	if !strings.Contains(session.Output, "Invalid data") {
		t.Fatalf("output = %q", session.Output)
	}
}

func TestFFmpegEngineMissingBinary(t *testing.T) {
	e := NewFFmpegEngine(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	session := e.Execute(context.Background(), "-i a.mp4 b.mp4")
	if session.ReturnCode != ReturnCodeStartFailure || session.FailTrace == "" {
		t.Fatalf("session = %+v, want start failure with trace", session)
	}
	if e.Available() {
		t.Fatalf("Available() = true for missing binary")
	}
}

func TestFFmpegEngineAsyncProgressAndCancel(t *testing.T) {
	bin := writeFakeFFmpeg(t, `
echo "out_time_us=1000000"
echo "progress=continue"
exec sleep 30`)
	e := NewFFmpegEngine(bin)

	var mu sync.Mutex
	var progress []domain.Progress
	done := make(chan Session, 1)
	gotProgress := make(chan struct{}, 1)

	handle, err := e.ExecuteAsync("-i a.mp4 b.mp4", Callbacks{
		OnProgress: func(p domain.Progress) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
			select {
			case gotProgress <- struct{}{}:
			default:
			}
		},
		OnComplete: func(s Session) { done <- s },
	})
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	select {
	case <-gotProgress:
	case <-time.After(5 * time.Second):
		t.Fatalf("no progress before timeout")
	}

	handle.Cancel()
	handle.Cancel()

	select {
	case s := <-done:
		if s.ReturnCode != ReturnCodeCancel {
			t.Fatalf("rc = %d, want %d", s.ReturnCode, ReturnCodeCancel)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("session did not complete after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 1 || progress[0].ElapsedTime != 1000 {
		t.Fatalf("progress = %+v", progress)
	}
}

func TestFFmpegEngineCancelAfterExitKeepsSuccess(t *testing.T) {
	bin := writeFakeFFmpeg(t, `
echo "muxing done" 1>&2
exit 0`)
	e := NewFFmpegEngine(bin)

	done := make(chan Session, 1)
	handleReady := make(chan Handle, 1)
	handle, err := e.ExecuteAsync("-i a.mp4 b.mp4", Callbacks{
		OnLog: func(string) {
			// Let the process exit while stderr is still being drained, then cancel.
			time.Sleep(300 * time.Millisecond)
			h := <-handleReady
			h.Cancel()
		},
		OnComplete: func(s Session) { done <- s },
	})
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	handleReady <- handle

	select {
	case s := <-done:
		if s.ReturnCode != ReturnCodeSuccess || s.Outcome() != OutcomeSuccess {
			t.Fatalf("rc = %d outcome = %q, want success", s.ReturnCode, s.Outcome())
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("session did not complete")
	}
}

func TestFFmpegEngineAsyncRejectsBadCommand(t *testing.T) {
	e := NewFFmpegEngine("ffmpeg")
	if _, err := e.ExecuteAsync("", Callbacks{}); err == nil {
		t.Fatalf("ExecuteAsync(empty) error = nil")
	}
}
