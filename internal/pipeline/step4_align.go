package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/audiostory/orchestrator/internal/collab/align"
	"github.com/audiostory/orchestrator/internal/domain"
)

const defaultSampleRate = 44100

// AlignStep is the Step 4 "Alignment" executor: it renders the assembled
// sequence against the BGM track into the task's final mixed output.
type AlignStep struct {
	aligner *align.Aligner
}

func NewAlignStep(aligner *align.Aligner) *AlignStep {
	return &AlignStep{aligner: aligner}
}

func (s *AlignStep) Name() string { return "Alignment" }

func (s *AlignStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	raw, err := os.ReadFile(dirs.SequenceJSON())
	if err != nil {
		return nil, fmt.Errorf("align: read sequence json: %w", err)
	}

	var entries []domain.SequenceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("align: parse sequence json: %w", err)
	}

	result, err := s.aligner.Render(ctx, entries, task.Inputs.BGMPath, dirs.FinalOutput(), defaultSampleRate)
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}

	return map[string]any{
		"mixed_entries": result.MixedEntries,
		"peak_dbfs":     result.PeakDBFS,
	}, nil
}
