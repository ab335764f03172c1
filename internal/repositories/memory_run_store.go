package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"lipsync/internal/models"
	"lipsync/internal/ports"
)

// MemoryRunStore keeps runs in process memory. Used when DATABASE_URL is empty
// and in tests; the API and worker must then share one process.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.Run
	now  func() time.Time
}

var _ ports.RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*models.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryRunStore) Create(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	run.CreatedAt = s.now()
	if run.LogTail == nil {
		run.LogTail = []string{}
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ports.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryRunStore) List(ctx context.Context, filter models.ListRunsFilter) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *cloneRun(run))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRunStore) MarkRunning(ctx context.Context, id string) error {
	return s.update(id, func(run *models.Run) {
		now := s.now()
		run.Status = models.RunRunning
		run.StartedAt = &now
		run.FinishedAt = nil
		run.ErrorText = ""
	})
}

func (s *MemoryRunStore) UpdateProgress(ctx context.Context, id string, snap models.ProgressSnapshot) error {
	return s.update(id, func(run *models.Run) {
		run.Progress = snap.Fraction
		run.ProgressSource = snap.Source
		run.LineCount = snap.LineCount
		run.LogTail = append([]string{}, snap.LogTail...)
	})
}

func (s *MemoryRunStore) Finish(ctx context.Context, id string, outcome models.RunOutcome) error {
	return s.update(id, func(run *models.Run) {
		now := s.now()
		run.Status = outcome.Status
		run.StderrText = outcome.StderrText
		run.ExitCode = cloneInt(outcome.ExitCode)
		run.ResultKey = outcome.ResultKey
		run.ResultName = outcome.ResultName
		run.ErrorText = truncate(outcome.ErrorText, 2000)
		run.FinishedAt = &now
	})
}

func (s *MemoryRunStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryRunStore) update(id string, fn func(run *models.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ports.ErrRunNotFound
	}
	fn(run)
	return nil
}

func cloneRun(run *models.Run) *models.Run {
	c := *run
	c.LogTail = append([]string{}, run.LogTail...)
	c.ExitCode = cloneInt(run.ExitCode)
	if run.StartedAt != nil {
		t := *run.StartedAt
		c.StartedAt = &t
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
