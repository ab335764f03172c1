package models

import (
	"strings"
	"time"
)

type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further updates will follow.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunQueued, RunRunning, RunSucceeded, RunFailed:
		return true
	}
	return false
}

// Progress sources.
const (
	ProgressSourceLines = "lines"
	ProgressSourceTool  = "tool"
)

// Run is one lip-sync inference request and everything observed while it ran.
type Run struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`

	VideoName string `json:"video_name"`
	AudioName string `json:"audio_name"`
	VideoKey  string `json:"-"`
	AudioKey  string `json:"-"`

	UseFloat16 bool `json:"use_float16"`
	BatchSize  int  `json:"batch_size"`

	Progress       float64  `json:"progress"`
	ProgressSource string   `json:"progress_source,omitempty"`
	LineCount      int      `json:"line_count"`
	LogTail        []string `json:"log_tail"`

	StderrText string `json:"stderr_text,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	ResultKey  string `json:"-"`
	ResultName string `json:"result_name,omitempty"`
	ErrorText  string `json:"error_text,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// HasResult reports whether a result video was archived for download.
func (r *Run) HasResult() bool {
	return r.Status == RunSucceeded && r.ResultKey != ""
}

// ProgressSnapshot is the throttled view of a running tool's stdout.
type ProgressSnapshot struct {
	Fraction  float64
	Source    string
	LineCount int
	LogTail   []string
}

// RunOutcome is recorded once, when a run reaches a terminal status.
type RunOutcome struct {
	Status     RunStatus
	StderrText string
	ExitCode   *int
	ResultKey  string
	ResultName string
	ErrorText  string
}

// ListRunsFilter narrows a run listing. Zero values mean no filter.
type ListRunsFilter struct {
	Status RunStatus
	Limit  int
}

// CleanText makes tool output storable as TEXT: invalid UTF-8 becomes U+FFFD
// and NUL bytes are dropped.
func CleanText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
