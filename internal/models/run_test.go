package models

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Loading model", "Loading model"},
		{"multibyte kept", " 42%|████| 42/100", " 42%|████| 42/100"},
		{"cut rune", "\x88\x88 done", "\uFFFD done"},
		{"nul dropped", "a\x00b", "ab"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanText(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestRunStatus(t *testing.T) {
	assert.True(t, RunSucceeded.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunQueued.Valid())
	assert.False(t, RunStatus("DONE").Valid())
}
