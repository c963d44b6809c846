package pipeline

import (
	"context"
	"fmt"

	"github.com/audiostory/orchestrator/internal/collab/sequence"
	"github.com/audiostory/orchestrator/internal/domain"
)

// SequenceStep is the Step 3 "Build Sequence" executor.
type SequenceStep struct {
	builder *sequence.Builder
}

func NewSequenceStep(builder *sequence.Builder) *SequenceStep {
	return &SequenceStep{builder: builder}
}

func (s *SequenceStep) Name() string { return "Build Sequence" }

func (s *SequenceStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	summary, err := s.builder.Build(dirs.Trimmed(), task.Inputs.ScriptJSON, task.Inputs.SourceAudio, dirs.CandidatesJSON(), dirs.SequenceJSON())
	if err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}

	return map[string]any{
		"total_slots":    summary.TotalSlots,
		"cloned_count":   summary.ClonedCount,
		"anchor_count":   summary.AnchorCount,
		"entries_output": summary.EntriesOutput,
	}, nil
}
