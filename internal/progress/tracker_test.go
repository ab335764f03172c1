package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"lipsync/internal/models"
)

func TestLineFraction(t *testing.T) {
	for n := 0; n <= 250; n++ {
		want := float64(n) / 100
		if want > 1 {
			want = 1
		}
		assert.InDelta(t, want, LineFraction(n), 1e-12, "n=%d", n)
	}
	assert.Equal(t, 0.0, LineFraction(-1))
}

func TestTrackerPlainLinesFollowLineFraction(t *testing.T) {
	tr := NewTracker()
	for n := 1; n <= 130; n++ {
		u := tr.Observe(fmt.Sprintf("frame %d processed", n))
		assert.InDelta(t, LineFraction(n), u.Snapshot.Fraction, 1e-12)
		assert.Equal(t, models.ProgressSourceLines, u.Snapshot.Source)
		assert.Equal(t, n, u.Snapshot.LineCount)
	}
}

func TestTrackerKeepsLastFiveTrimmedLines(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 7; i++ {
		tr.Observe(fmt.Sprintf("line %d \t\r\n", i))
	}
	snap := tr.Snapshot()
	assert.Equal(t, []string{"line 3", "line 4", "line 5", "line 6", "line 7"}, snap.LogTail)

	snap.LogTail[0] = "changed"
	assert.Equal(t, "line 3", tr.Snapshot().LogTail[0], "snapshot is a copy")
}

func TestTrackerCleansLines(t *testing.T) {
	tr := NewTracker()
	u := tr.Observe("frame\x00 7 \xff\xfe done")

	assert.Equal(t, "frame 7 \uFFFD done", u.Line)
	assert.Equal(t, []string{"frame 7 \uFFFD done"}, u.Snapshot.LogTail)
}

func TestTrackerPrefersToolProgress(t *testing.T) {
	tr := NewTracker()
	tr.Observe("loading model")
	u := tr.Observe("PROGRESS 3/4")
	assert.Equal(t, 0.75, u.Snapshot.Fraction)
	assert.Equal(t, models.ProgressSourceTool, u.Snapshot.Source)

	u = tr.Observe("writing video")
	assert.Equal(t, 0.75, u.Snapshot.Fraction, "plain lines keep the tool fraction")
	assert.Equal(t, models.ProgressSourceTool, u.Snapshot.Source)
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"PROGRESS 1/4", 0.25, true},
		{"  PROGRESS 10 / 10", 1, true},
		{"PROGRESS 12/10", 1, true},
		{"PROGRESS 3/0", 0, false},
		{"PROGRESS 42%", 0.42, true},
		{"PROGRESS 12.5%", 0.125, true},
		{" 37%|███▋      | 37/100 [00:05<00:09,  6.9it/s]", 0.37, true},
		{"100%|██████████| 100/100", 1, true},
		{"loaded 42% of weights", 0, false},
		{"", 0, false},
		{"No such file or directory", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}
