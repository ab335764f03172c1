package processor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"lipsync/internal/pkg/logger"
	"lipsync/internal/progress"
)

const maxLineBytes = 1 << 20

// StreamResult is what was learned from the tool's output streams.
type StreamResult struct {
	Lines int
	// SentinelPath is the path announced on a sentinel line, if any.
	SentinelPath string
	// Stderr is everything the tool wrote to stderr.
	Stderr string
	// StderrPanel is Stderr when it should be shown as an error, else "".
	StderrPanel string
	Exit        ExitStatus
}

type Streamer struct {
	sentinel string
	benign   []string
	log      *logger.Logger
}

func NewStreamer(sentinel string, benign []string, log *logger.Logger) *Streamer {
	return &Streamer{sentinel: sentinel, benign: benign, log: log}
}

// Stream reads proc's stdout line by line until EOF, feeding each line to the
// tracker and reporter, then collects stderr and waits for the exit status.
func (s *Streamer) Stream(ctx context.Context, proc *Process, tracker *progress.Tracker, rep *progress.Reporter) StreamResult {
	var res StreamResult

	sc := bufio.NewScanner(proc.Stdout())
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	sc.Split(ScanUniversalLines)

	for sc.Scan() {
		u := tracker.Observe(sc.Text())
		s.log.Debug("tool stdout", "line", u.Line)

		if path, ok := s.sentinelPath(u.Line); ok {
			res.SentinelPath = path
		}
		if rep != nil {
			rep.Report(ctx, u)
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("stdout read stopped early", "error", err.Error())
		_, _ = io.Copy(io.Discard, proc.Stdout())
	}
	if rep != nil {
		rep.Flush(ctx)
	}

	res.Lines = tracker.Lines()
	res.Exit, res.Stderr = proc.Wait()
	res.StderrPanel = StderrPanel(res.Stderr, s.benign)
	if res.Stderr != "" {
		s.log.Debug("tool stderr", "bytes", len(res.Stderr), "shown", res.StderrPanel != "")
	}
	return res
}

func (s *Streamer) sentinelPath(line string) (string, bool) {
	if s.sentinel == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), s.sentinel)
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// StderrPanel returns stderr when it is non-empty and contains none of the
// benign markers; otherwise "".
func StderrPanel(stderr string, benign []string) string {
	if stderr == "" {
		return ""
	}
	for _, marker := range benign {
		if marker != "" && strings.Contains(stderr, marker) {
			return ""
		}
	}
	return stderr
}

// ScanUniversalLines is a bufio.SplitFunc that ends lines at "\n", "\r\n" or a
// lone "\r", so carriage-return progress bars yield one line per redraw.
func ScanUniversalLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A trailing '\r' may be the first half of "\r\n".
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
