package progress

import (
	"context"
	"time"

	"lipsync/internal/models"
)

type EventType string

const (
	// EventProgress carries one new stdout line and the updated snapshot.
	EventProgress EventType = "progress"
	// EventStatus announces a status change other than completion.
	EventStatus EventType = "status"
	// EventFinished is the last event of a run.
	EventFinished EventType = "finished"
)

type Event struct {
	Type           EventType        `json:"type"`
	RunID          string           `json:"run_id"`
	Status         models.RunStatus `json:"status,omitempty"`
	Progress       float64          `json:"progress"`
	ProgressSource string           `json:"progress_source,omitempty"`
	LineCount      int              `json:"line_count,omitempty"`
	Line           string           `json:"line,omitempty"`
	LogTail        []string         `json:"log_tail,omitempty"`
	StderrText     string           `json:"stderr_text,omitempty"`
	ErrorText      string           `json:"error_text,omitempty"`
	ResultName     string           `json:"result_name,omitempty"`
	At             time.Time        `json:"at"`
}

// Broker fans run events out to subscribers. Delivery is best effort: a slow
// subscriber misses events rather than stalling the run.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for runID. The channel is closed
	// when ctx ends or the returned cancel func is called.
	Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error)
}

// Channel is the pub/sub channel name for a run's events.
func Channel(runID string) string {
	return "lipsync:runs:" + runID + ":events"
}

// FinishedEvent builds the terminal event for a run record.
func FinishedEvent(run *models.Run) Event {
	return Event{
		Type:           EventFinished,
		RunID:          run.ID,
		Status:         run.Status,
		Progress:       run.Progress,
		ProgressSource: run.ProgressSource,
		LineCount:      run.LineCount,
		LogTail:        run.LogTail,
		StderrText:     run.StderrText,
		ErrorText:      run.ErrorText,
		ResultName:     run.ResultName,
		At:             time.Now().UTC(),
	}
}
