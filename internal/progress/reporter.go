package progress

import (
	"context"
	"time"

	"lipsync/internal/models"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/ports"
)

// Reporter forwards tracker updates for one run: every line goes to the
// broker, and the run store gets at most one snapshot per interval.
type Reporter struct {
	runID    string
	store    ports.RunStore
	broker   Broker
	interval time.Duration
	log      *logger.Logger

	lastFlush time.Time
	pending   *models.ProgressSnapshot
	now       func() time.Time
}

func NewReporter(runID string, store ports.RunStore, broker Broker, interval time.Duration, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Reporter{
		runID:    runID,
		store:    store,
		broker:   broker,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Report publishes u and snapshots it to the store when the interval has elapsed.
func (r *Reporter) Report(ctx context.Context, u Update) {
	r.publish(ctx, Event{
		Type:           EventProgress,
		RunID:          r.runID,
		Status:         models.RunRunning,
		Progress:       u.Snapshot.Fraction,
		ProgressSource: u.Snapshot.Source,
		LineCount:      u.Snapshot.LineCount,
		Line:           u.Line,
		LogTail:        u.Snapshot.LogTail,
		At:             r.now().UTC(),
	})

	snap := u.Snapshot
	r.pending = &snap
	if r.now().Sub(r.lastFlush) >= r.interval {
		r.Flush(ctx)
	}
}

// Flush writes the latest unsaved snapshot, if any.
func (r *Reporter) Flush(ctx context.Context) {
	if r.pending == nil || r.store == nil {
		return
	}
	if err := r.store.UpdateProgress(ctx, r.runID, *r.pending); err != nil {
		r.log.Warn("progress snapshot failed", "error", err.Error())
		return
	}
	r.pending = nil
	r.lastFlush = r.now()
}

// Status publishes a non-progress status change.
func (r *Reporter) Status(ctx context.Context, status models.RunStatus) {
	r.publish(ctx, Event{Type: EventStatus, RunID: r.runID, Status: status, At: r.now().UTC()})
}

// Finished publishes the terminal event for run.
func (r *Reporter) Finished(ctx context.Context, run *models.Run) {
	r.publish(ctx, FinishedEvent(run))
}

func (r *Reporter) publish(ctx context.Context, ev Event) {
	if r.broker == nil {
		return
	}
	if err := r.broker.Publish(ctx, ev); err != nil {
		r.log.Debug("progress publish failed", "type", string(ev.Type), "error", err.Error())
	}
}
