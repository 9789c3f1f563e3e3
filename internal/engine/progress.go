package engine

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"transcode-bridge/internal/domain"
)

// progressParser folds ffmpeg "-progress" key=value blocks into snapshots.
type progressParser struct {
	cur domain.Progress
}

// feed consumes one line and returns a snapshot when a block ends.
func (p *progressParser) feed(line string) (domain.Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return domain.Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if us, ok := parseInt(value); ok {
			p.cur.ElapsedTime = us / 1000
		}
	case "total_size":
		if n, ok := parseInt(value); ok {
			p.cur.ProducedSize = n
		}
	case "bitrate":
		p.cur.Bitrate = parseFloat(strings.TrimSuffix(value, "kbits/s"))
	case "speed":
		p.cur.Speed = parseFloat(strings.TrimSuffix(value, "x"))
	case "progress":
		snap := p.cur
		return snap, true
	}
	return domain.Progress{}, false
}

// readProgress parses r until EOF, calling emit for every completed block.
func readProgress(r io.Reader, emit func(domain.Progress)) {
	var p progressParser
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		snap, ok := p.feed(sc.Text())
		if ok && emit != nil {
			emit(snap)
		}
	}
}

func parseInt(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseFloat returns 0 for "N/A" and other unparsable values.
func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
