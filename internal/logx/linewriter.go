package logx

import (
	"bufio"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LineWriter turns stream output into per-line zerolog events at a given level.
type LineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func NewLineWriter(fields map[string]string, level zerolog.Level) *LineWriter {
	w := log.Logger.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	return &LineWriter{logger: w.Logger(), level: level}
}

// Pipe logs every line of r until EOF and returns the number of lines seen.
func (lw *LineWriter) Pipe(r io.Reader) int {
	lines := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines++
		lw.logger.WithLevel(lw.level).Msg(sc.Text())
	}
	return lines
}
