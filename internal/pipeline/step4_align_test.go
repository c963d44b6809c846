package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiostory/orchestrator/internal/collab/align"
	"github.com/audiostory/orchestrator/internal/domain"
	"github.com/audiostory/orchestrator/internal/wav"
)

func TestAlignStepRendersFromSequenceJSON(t *testing.T) {
	root := t.TempDir()
	dirs := NewTaskDirs(root)

	clip := filepath.Join(root, "clip.wav")
	if err := wav.EncodeFile(clip, wav.Silence(16000, 1, 200)); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}

	entries := []domain.SequenceEntry{
		{StartMs: 0, EndMs: 200, SourcePath: clip, Kind: domain.EntryKindCloned},
	}
	raw, _ := json.Marshal(entries)
	if err := os.WriteFile(dirs.SequenceJSON(), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	task := domain.NewTask("t1", "demo", domain.Inputs{}, time.Now().UTC())
	step := NewAlignStep(align.New(2))

	result, err := step.Execute(context.Background(), task, dirs)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["mixed_entries"] != 1 {
		t.Fatalf("expected 1 mixed entry, got %v", result["mixed_entries"])
	}
	if _, err := os.Stat(dirs.FinalOutput()); err != nil {
		t.Fatalf("expected final output written: %v", err)
	}
}

func TestAlignStepFailsWhenSequenceJSONMissing(t *testing.T) {
	dirs := NewTaskDirs(t.TempDir())
	task := domain.NewTask("t1", "demo", domain.Inputs{}, time.Now().UTC())
	step := NewAlignStep(align.New(2))

	if _, err := step.Execute(context.Background(), task, dirs); err == nil {
		t.Fatal("expected an error when sequence.json is missing")
	}
}
