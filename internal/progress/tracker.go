// Package progress turns the inference tool's stdout into progress updates and
// fans them out to anyone watching a run.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"lipsync/internal/models"
)

// TailSize is the number of recent stdout lines kept for display.
const TailSize = 5

// linesForFull is the stdout line count treated as 100% when the tool reports nothing better.
const linesForFull = 100

var (
	ratioRe   = regexp.MustCompile(`^PROGRESS\s+(\d+)\s*/\s*(\d+)\b`)
	percentRe = regexp.MustCompile(`^PROGRESS\s+(\d+(?:\.\d+)?)\s*%`)
	tqdmRe    = regexp.MustCompile(`(\d{1,3})%\|`)
)

// LineFraction is the fallback estimate after n stdout lines: min(n/100, 1).
func LineFraction(n int) float64 {
	if n <= 0 {
		return 0
	}
	if n >= linesForFull {
		return 1
	}
	return float64(n) / linesForFull
}

// ParseProgress extracts a completion fraction from a structured progress line:
// "PROGRESS 3/10", "PROGRESS 42%" or a tqdm bar such as " 42%|████   | 42/100".
func ParseProgress(line string) (float64, bool) {
	s := strings.TrimSpace(line)

	if m := ratioRe.FindStringSubmatch(s); m != nil {
		done, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || total <= 0 {
			return 0, false
		}
		return clamp(float64(done) / float64(total)), true
	}
	if m := percentRe.FindStringSubmatch(s); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return clamp(pct / 100), true
	}
	if m := tqdmRe.FindStringSubmatch(s); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			return 0, false
		}
		return float64(pct) / 100, true
	}
	return 0, false
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Update is the state after observing one stdout line.
type Update struct {
	Line     string
	Snapshot models.ProgressSnapshot
}

// Tracker accumulates stdout lines for one run. It is not safe for concurrent use.
//
// Until the tool emits a structured progress line the fraction follows
// LineFraction. After the first one, the last tool-reported fraction is kept
// for plain lines so the bar does not jump back to the line estimate.
type Tracker struct {
	lines    int
	tail     []string
	fraction float64
	source   string
}

func NewTracker() *Tracker {
	return &Tracker{tail: make([]string, 0, TailSize), source: models.ProgressSourceLines}
}

// Observe records one raw stdout line.
func (t *Tracker) Observe(raw string) Update {
	line := models.CleanText(strings.TrimRightFunc(raw, unicode.IsSpace))

	t.lines++
	if len(t.tail) == TailSize {
		copy(t.tail, t.tail[1:])
		t.tail = t.tail[:TailSize-1]
	}
	t.tail = append(t.tail, line)

	if f, ok := ParseProgress(line); ok {
		t.fraction = f
		t.source = models.ProgressSourceTool
	} else if t.source == models.ProgressSourceLines {
		t.fraction = LineFraction(t.lines)
	}

	return Update{Line: line, Snapshot: t.Snapshot()}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() models.ProgressSnapshot {
	return models.ProgressSnapshot{
		Fraction:  t.fraction,
		Source:    t.source,
		LineCount: t.lines,
		LogTail:   append([]string(nil), t.tail...),
	}
}

// Lines returns the number of lines observed so far.
func (t *Tracker) Lines() int { return t.lines }
