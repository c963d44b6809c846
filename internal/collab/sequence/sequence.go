// Package sequence implements the Step 3 "Build Sequence" collaborator: it
// assembles the final story timeline by running the matcher's L1-L3 funnel
// for every scripted slot against the candidate library Step 1 left behind,
// then writes the resulting SequenceEntry list as the step's output JSON.
//
// Grounded on the original source's build_story_sequence.py for the
// load-script / scan-candidates / merge / emit-JSON shape; the actual
// per-slot candidate selection is delegated to internal/matcher rather than
// the Python script's Whisper-based forced-alignment algorithm, since the
// script slots here already carry their scripted timeline position
// (source_audio re-alignment via ASR is out of scope — an external ML
// step, not this collaborator's job per its "pure CPU" contract).
package sequence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/audiostory/orchestrator/internal/domain"
	"github.com/audiostory/orchestrator/internal/matcher"
	"github.com/audiostory/orchestrator/internal/wav"
)

const (
	defaultFadeMs = 10
	entryGainDB   = 0
)

// Builder is the SequenceBuilder collaborator (§6.2).
type Builder struct {
	embedder matcher.EmbeddingProvider
	anchor   matcher.Anchor
}

// New constructs a Builder. anchor supplies the fallback clip path used
// when the matcher cannot find any role/duration-eligible candidate.
func New(embedder matcher.EmbeddingProvider, anchor matcher.Anchor) *Builder {
	return &Builder{embedder: embedder, anchor: anchor}
}

// Summary is the step-level outcome recorded onto the task's StepRecord.
type Summary struct {
	TotalSlots    int
	ClonedCount   int
	AnchorCount   int
	EntriesOutput int
}

// Build loads the script's slots and the candidate library Step 1 and Step
// 2 left behind (trimmedDir's WAVs plus candidatesPath's metadata
// manifest), matches each slot, and writes the resulting timeline to
// outJSON. sourceAudio is the original source recording (§6.2): whenever a
// slot falls back to the anchor, its entry is a slice of sourceAudio at the
// slot's own timeline position rather than one static clip reused for
// every anchored slot.
func (b *Builder) Build(trimmedDir, scriptJSON, sourceAudio, candidatesPath, outJSON string) (Summary, error) {
	slots, err := loadScript(scriptJSON)
	if err != nil {
		return Summary{}, fmt.Errorf("sequence: load script: %w", err)
	}
	if len(slots) == 0 {
		return Summary{}, fmt.Errorf("sequence: script JSON has no slots")
	}

	library, err := buildCandidateLibrary(trimmedDir, candidatesPath)
	if err != nil {
		return Summary{}, fmt.Errorf("sequence: build candidate library: %w", err)
	}

	m := matcher.New(library, b.embedder, b.anchor)
	anchorClipsDir := filepath.Join(filepath.Dir(outJSON), "anchor_clips")

	entries := make([]domain.SequenceEntry, 0, len(slots))
	summary := Summary{TotalSlots: len(slots)}
	var source *wav.Audio

	for i, slot := range slots {
		match := m.BestMatch(slot)
		durationMs := durationOf(match, slot)

		entry := domain.SequenceEntry{
			StartMs:    slot.StartMs,
			EndMs:      slot.StartMs + durationMs,
			SourcePath: match.Candidate.SourcePath,
			GainDb:     entryGainDB,
			FadeInMs:   defaultFadeMs,
			FadeOutMs:  defaultFadeMs,
			Mode:       string(match.Level),
		}

		if match.IsAnchor {
			entry.Kind = domain.EntryKindAnchor
			summary.AnchorCount++

			if source == nil {
				source, err = wav.DecodeFile(sourceAudio)
				if err != nil {
					return Summary{}, fmt.Errorf("sequence: decode source audio for anchor fallback: %w", err)
				}
			}
			clipPath, err := writeAnchorSlice(source, anchorClipsDir, i, slot.StartMs, durationMs)
			if err != nil {
				return Summary{}, fmt.Errorf("sequence: write anchor slice for slot %d: %w", i, err)
			}
			entry.SourcePath = clipPath
		} else {
			entry.Kind = domain.EntryKindCloned
			summary.ClonedCount++
		}

		entries = append(entries, entry)
	}

	if err := writeSequence(outJSON, entries); err != nil {
		return Summary{}, fmt.Errorf("sequence: write output: %w", err)
	}

	summary.EntriesOutput = len(entries)
	return summary, nil
}

// writeAnchorSlice cuts [startMs, startMs+durationMs) out of the source
// recording and writes it as its own WAV file, giving every anchored slot
// a distinct fallback clip instead of one shared static file.
func writeAnchorSlice(source *wav.Audio, dir string, slotIndex int, startMs, durationMs int64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	framesPerMs := float64(source.SampleRate) / 1000
	start := int(float64(startMs) * framesPerMs)
	end := int(float64(startMs+durationMs) * framesPerMs)
	clip := source.Slice(start, end)

	path := filepath.Join(dir, fmt.Sprintf("slot_%04d.wav", slotIndex))
	if err := wav.EncodeFile(path, clip); err != nil {
		return "", err
	}
	return path, nil
}

func durationOf(match matcher.Match, slot domain.SlotSpec) int64 {
	if match.Candidate.DurationMs > 0 {
		return match.Candidate.DurationMs
	}
	if slot.ExpectedDurationMs > 0 {
		return slot.ExpectedDurationMs
	}
	return 1000
}

func loadScript(path string) ([]domain.SlotSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var slots []domain.SlotSpec
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("parse script json: %w", err)
	}
	return slots, nil
}

// buildCandidateLibrary pairs trimmed WAV files with their metadata from
// the candidates manifest, decoding each file to learn its true (trimmed)
// duration. A trimmed file with no matching manifest entry is still
// included, just with blank metadata — it will score low on timbre and
// prosody and fall through to anchor fallback rather than being invisible
// to the matcher.
func buildCandidateLibrary(trimmedDir, candidatesPath string) ([]domain.AudioCandidate, error) {
	metas, err := loadCandidatesManifest(candidatesPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(trimmedDir)
	if err != nil {
		return nil, fmt.Errorf("read trimmed dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	library := make([]domain.AudioCandidate, 0, len(names))
	for i, name := range names {
		path := filepath.Join(trimmedDir, name)
		audio, err := wav.DecodeFile(path)
		if err != nil {
			continue
		}

		cand := domain.AudioCandidate{
			ID:         name,
			Index:      i,
			SourcePath: path,
			DurationMs: audio.DurationMs(),
		}

		if meta, ok := metas[name]; ok {
			cand.Role = meta.Role
			cand.VocalMode = meta.VocalMode
			cand.EnergyLevel = meta.EnergyLevel
			cand.PitchCurve = meta.PitchCurve
			cand.Tags = meta.Tags
			cand.SemanticDesc = meta.SemanticDesc
		}

		library = append(library, cand)
	}

	return library, nil
}

func loadCandidatesManifest(path string) (map[string]domain.CandidateMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.CandidateMeta{}, nil
		}
		return nil, err
	}

	var metas []domain.CandidateMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, fmt.Errorf("parse candidates manifest: %w", err)
	}

	out := make(map[string]domain.CandidateMeta, len(metas))
	for _, m := range metas {
		out[m.Filename] = m
	}
	return out, nil
}

func writeSequence(path string, entries []domain.SequenceEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
