// Package domain holds the task/step types shared by the registry, the
// pipeline, and the HTTP transport layer.
package domain

import (
	"errors"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

const TotalSteps = 4

var StepNames = [TotalSteps]string{
	"Voice Cloning",
	"Trim Silence",
	"Build Sequence",
	"Alignment",
}

// Inputs is the frozen snapshot of the six paths a task was submitted with.
type Inputs struct {
	SpeakerWav     string `json:"speaker_wav"`
	DialogueJSON   string `json:"dialogue_json"`
	EmotionFolder  string `json:"emotion_folder"`
	SourceAudio    string `json:"source_audio"`
	ScriptJSON     string `json:"script_json"`
	BGMPath        string `json:"bgm_path"`
}

// StepRecord is the structured progress record of one of the four pipeline steps.
type StepRecord struct {
	StepNumber int            `json:"step_number"`
	StepName   string         `json:"step_name"`
	Status     StepStatus     `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Task is the unit of work tracked by the registry.
type Task struct {
	TaskID          string       `json:"task_id"`
	Name            string       `json:"name,omitempty"`
	Inputs          Inputs       `json:"inputs"`
	Status          TaskStatus   `json:"status"`
	CurrentStep     int          `json:"current_step"`
	TotalSteps      int          `json:"total_steps"`
	ProgressMessage string       `json:"progress_message"`
	Steps           []StepRecord `json:"steps"`
	OutputPath      string       `json:"output_path,omitempty"`
	ArchiveObject   string       `json:"archive_object,omitempty"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
}

// NewTask allocates a pending task with four pending step records.
func NewTask(taskID, name string, inputs Inputs, now time.Time) *Task {
	steps := make([]StepRecord, TotalSteps)
	for i := range steps {
		steps[i] = StepRecord{
			StepNumber: i + 1,
			StepName:   StepNames[i],
			Status:     StepPending,
		}
	}

	return &Task{
		TaskID:          taskID,
		Name:            name,
		Inputs:          inputs,
		Status:          StatusPending,
		CurrentStep:     0,
		TotalSteps:      TotalSteps,
		ProgressMessage: "task created, waiting to run",
		Steps:           steps,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep-enough copy safe to hand to callers outside the registry lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Steps = make([]StepRecord, len(t.Steps))
	copy(c.Steps, t.Steps)
	return &c
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrConflict     = errors.New("task is processing")
	ErrQueueFull    = errors.New("scheduler queue is full")
	ErrInvalidInput = errors.New("invalid input")
)
