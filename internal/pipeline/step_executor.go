// Package pipeline orchestrates the four ordered steps of the audio
// synthesis task against a per-task working directory, grounded on the
// original source's generate_audio_pipeline (GPU semaphore scoping around
// step 1, per-step try/except recorded onto the task) and the teacher's
// distributor.process (status transition ordering around a collaborator
// call).
package pipeline

import (
	"context"

	"github.com/audiostory/orchestrator/internal/domain"
)

// StepExecutor is the uniform contract every step of the pipeline exposes
// (spec §2, "StepExecutors (x4)"). Result is merged onto the owning
// StepRecord's Result field on success.
type StepExecutor interface {
	Name() string
	Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (result map[string]any, err error)
}
