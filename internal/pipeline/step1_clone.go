package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/audiostory/orchestrator/internal/collab/tts"
	"github.com/audiostory/orchestrator/internal/domain"
	"github.com/audiostory/orchestrator/internal/gpugate"
)

// CloneStep is the Step 1 "Voice Cloning" executor. It loops over the
// dialogue JSON in sort order, resolves each line's emotion reference clip
// against the emotion folder, and calls the TTSCloner collaborator once
// per line. GPU access is serialized across concurrently running tasks by
// gate, held only for the duration of this step.
type CloneStep struct {
	cloner tts.Cloner
	gate   *gpugate.Gate
}

func NewCloneStep(cloner tts.Cloner, gate *gpugate.Gate) *CloneStep {
	return &CloneStep{cloner: cloner, gate: gate}
}

func (s *CloneStep) Name() string { return "Voice Cloning" }

func (s *CloneStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	records, err := loadDialogue(task.Inputs.DialogueJSON)
	if err != nil {
		return nil, fmt.Errorf("clone: load dialogue: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("clone: dialogue JSON has no lines")
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Sort < records[j].Sort })

	clips, err := loadEmotionLibrary(task.Inputs.EmotionFolder)
	if err != nil {
		return nil, fmt.Errorf("clone: load emotion library: %w", err)
	}

	if err := os.MkdirAll(dirs.Cloned(), 0o755); err != nil {
		return nil, fmt.Errorf("clone: create output dir: %w", err)
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("clone: acquire gpu gate: %w", err)
	}
	defer s.gate.Release()

	seenSort := map[int]int{}
	var metas []domain.CandidateMeta
	successCount, failedCount := 0, 0

	for i, rec := range records {
		disambiguator := 0
		if seenSort[rec.Sort] > 0 {
			disambiguator = i
		}
		seenSort[rec.Sort]++

		filename := tts.OutputFilename(rec.Sort, rec.Text, disambiguator)
		outputPath := filepath.Join(dirs.Cloned(), filename)

		emotionPath := filepath.Join(task.Inputs.EmotionFolder, rec.EmoAudio)
		if _, err := os.Stat(emotionPath); err != nil {
			failedCount++
			continue
		}

		result, err := s.cloner.CloneWithEmotionAudio(ctx, rec.Text, task.Inputs.SpeakerWav, emotionPath, outputPath)
		if err != nil || !result.Success {
			failedCount++
			continue
		}

		successCount++
		meta := domain.CandidateMeta{Sort: rec.Sort, Role: rec.Role, Filename: filename}
		if clip, ok := clips[rec.EmoAudio]; ok {
			meta.VocalMode = clip.VocalMode
			meta.EnergyLevel = clip.EnergyLevel
			meta.PitchCurve = clip.PitchCurve
			meta.Tags = clip.Tags
			meta.SemanticDesc = clip.SemanticDesc
		}
		metas = append(metas, meta)
	}

	if successCount == 0 {
		return nil, fmt.Errorf("clone: all %d lines failed to clone", len(records))
	}

	if err := writeCandidatesManifest(dirs.CandidatesJSON(), metas); err != nil {
		return nil, fmt.Errorf("clone: write candidates manifest: %w", err)
	}

	return map[string]any{
		"total":   len(records),
		"success": successCount,
		"failed":  failedCount,
	}, nil
}

func loadDialogue(path string) ([]domain.DialogueRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []domain.DialogueRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse dialogue json: %w", err)
	}
	return records, nil
}

// loadEmotionLibrary reads the emotion folder's library.json manifest,
// mapping each reference clip's filename to its declared metadata. A
// missing manifest is not an error: candidates simply carry no metadata
// and score 0 on timbre/prosody/vector, falling through to anchor
// fallback rather than failing the step.
func loadEmotionLibrary(emotionFolder string) (map[string]domain.EmotionClipMeta, error) {
	manifestPath := filepath.Join(emotionFolder, "library.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.EmotionClipMeta{}, nil
		}
		return nil, err
	}

	var clips []domain.EmotionClipMeta
	if err := json.Unmarshal(raw, &clips); err != nil {
		return nil, fmt.Errorf("parse emotion library manifest: %w", err)
	}

	out := make(map[string]domain.EmotionClipMeta, len(clips))
	for _, c := range clips {
		out[c.Filename] = c
	}
	return out, nil
}

func writeCandidatesManifest(path string, metas []domain.CandidateMeta) error {
	raw, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
