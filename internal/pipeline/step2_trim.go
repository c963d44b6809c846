package pipeline

import (
	"context"
	"fmt"

	"github.com/audiostory/orchestrator/internal/collab/trim"
	"github.com/audiostory/orchestrator/internal/domain"
)

// TrimStep is the Step 2 "Trim Silence" executor: it batch-trims every
// cloned line, processing files concurrently since each trim is
// independent CPU-bound work (spec §4.6 expansion).
type TrimStep struct {
	trimmer     *trim.Trimmer
	maxParallel int
}

func NewTrimStep(trimmer *trim.Trimmer, maxParallel int) *TrimStep {
	return &TrimStep{trimmer: trimmer, maxParallel: maxParallel}
}

func (s *TrimStep) Name() string { return "Trim Silence" }

func (s *TrimStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	results, err := trim.RunBatch(ctx, s.trimmer, dirs.Cloned(), dirs.Trimmed(), s.maxParallel)
	if err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}

	var successCount, failedCount int
	var totalSavedMs int64
	for _, r := range results {
		if r.Err != nil {
			failedCount++
			continue
		}
		successCount++
		totalSavedMs += r.Result.TrimmedMs
	}

	return map[string]any{
		"total_files":      len(results),
		"success_count":    successCount,
		"failed_count":     failedCount,
		"total_saved_ms":   totalSavedMs,
	}, nil
}
