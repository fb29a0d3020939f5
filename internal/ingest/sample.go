package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"taskvault/internal/task"
)

const (
	sampleTaskPrefix = "TEST"
	samplePriority   = "low"
)

// SampleItem is the synthetic item emitted by SampleSource.
type SampleItem struct {
	ID      string
	Content string
}

func (i SampleItem) String() string { return i.ID }

// SampleSource emits a single test task on its first cycle. It exists to
// check a vault end to end without dropping real files.
type SampleSource struct {
	store  task.Store
	now    func() time.Time
	cycles atomic.Int64
}

func NewSampleSource(store task.Store) *SampleSource {
	return &SampleSource{store: store, now: time.Now}
}

func (s *SampleSource) Name() string { return string(task.OriginTest) }

func (s *SampleSource) Discover(ctx context.Context) ([]SampleItem, error) { //nolint:revive // context unused by synthetic source
	n := s.cycles.Add(1)
	if n > 1 {
		return nil, nil
	}
	return []SampleItem{{ID: fmt.Sprintf("test_%d", n), Content: "Test item"}}, nil
}

func (s *SampleSource) Materialize(ctx context.Context, item SampleItem) (string, error) {
	now := s.now()
	doc := task.NewDocument(task.Metadata{
		Type:     string(task.OriginTest),
		Priority: samplePriority,
		Created:  now.Format(time.RFC3339),
		Fields:   map[string]any{"id": item.ID},
	}, fmt.Sprintf("# Test Action Item\n\n%s\n\n%s", item.Content,
		task.ChecklistSection([]string{"Review this test item", "Move it to Done when satisfied"})))

	ref, err := s.store.Create(ctx, TaskName(sampleTaskPrefix, item.ID, now), doc)
	if err != nil {
		return "", fmt.Errorf("write sample task: %w", err)
	}
	return ref.Name, nil
}
