package sequence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/audiostory/orchestrator/internal/domain"
	"github.com/audiostory/orchestrator/internal/matcher"
	"github.com/audiostory/orchestrator/internal/wav"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeCandidateWav(t *testing.T, dir, name string, durationMs int64) {
	t.Helper()
	a := wav.Silence(16000, 1, durationMs)
	if err := wav.EncodeFile(filepath.Join(dir, name), a); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
}

func writeSourceAudio(t *testing.T, dir string, durationMs int64) string {
	t.Helper()
	path := filepath.Join(dir, "source.wav")
	a := wav.Silence(16000, 1, durationMs)
	for i := range a.Samples {
		a.Samples[i] = int16(i % 100)
	}
	if err := wav.EncodeFile(path, a); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	return path
}

func TestBuildMatchesEverySlotAndCountsAnchorVsCloned(t *testing.T) {
	dir := t.TempDir()
	trimmedDir := filepath.Join(dir, "trimmed")
	if err := os.MkdirAll(trimmedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	writeCandidateWav(t, trimmedDir, "0_hello.wav", 1000)
	sourceAudio := writeSourceAudio(t, dir, 3000)

	candidatesPath := filepath.Join(dir, "candidates.json")
	writeJSON(t, candidatesPath, []domain.CandidateMeta{
		{Sort: 0, Role: "narrator", Filename: "0_hello.wav", VocalMode: "modal_warm", EnergyLevel: 3, PitchCurve: "rising"},
	})

	scriptPath := filepath.Join(dir, "script.json")
	writeJSON(t, scriptPath, []domain.SlotSpec{
		{
			ExpectedText:       "narrator line",
			ExpectedDurationMs: 1000,
			ExpectedRole:       "narrator",
			StartMs:            0,
			Timbral:            domain.Timbral{VocalMode: "modal_warm"},
			Prosodic:           domain.Prosodic{EnergyLevel: 3, PitchCurve: "rising"},
		},
		{
			ExpectedText:       "villain line",
			ExpectedDurationMs: 1000,
			ExpectedRole:       "villain", // no candidate has this role -> anchor fallback
			StartMs:            1000,
		},
	})

	b := New(nil, matcher.Anchor{Path: "/anchor.wav"})
	outJSON := filepath.Join(dir, "sequence.json")

	summary, err := b.Build(trimmedDir, scriptPath, sourceAudio, candidatesPath, outJSON)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if summary.TotalSlots != 2 {
		t.Fatalf("expected 2 total slots, got %d", summary.TotalSlots)
	}
	if summary.ClonedCount != 1 || summary.AnchorCount != 1 {
		t.Fatalf("expected 1 cloned + 1 anchor, got cloned=%d anchor=%d", summary.ClonedCount, summary.AnchorCount)
	}
	if summary.EntriesOutput != 2 {
		t.Fatalf("expected 2 entries output, got %d", summary.EntriesOutput)
	}

	raw, err := os.ReadFile(outJSON)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entries []domain.SequenceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in output JSON, got %d", len(entries))
	}
	if entries[0].Kind != domain.EntryKindCloned {
		t.Fatalf("expected first entry cloned, got %s", entries[0].Kind)
	}
	if entries[1].Kind != domain.EntryKindAnchor {
		t.Fatalf("expected second entry anchor, got %s", entries[1].Kind)
	}
	if entries[1].SourcePath == "/anchor.wav" {
		t.Fatal("expected anchor entry to point at a sliced source-audio clip, not the static anchor path")
	}
	if _, err := os.Stat(entries[1].SourcePath); err != nil {
		t.Fatalf("expected the anchor slice file to exist on disk: %v", err)
	}
	sliced, err := wav.DecodeFile(entries[1].SourcePath)
	if err != nil {
		t.Fatalf("DecodeFile anchor slice: %v", err)
	}
	if sliced.DurationMs() != 1000 {
		t.Fatalf("expected anchor slice duration 1000ms, got %dms", sliced.DurationMs())
	}
}

func TestBuildFailsOnEmptyScript(t *testing.T) {
	dir := t.TempDir()
	trimmedDir := filepath.Join(dir, "trimmed")
	if err := os.MkdirAll(trimmedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	scriptPath := filepath.Join(dir, "script.json")
	writeJSON(t, scriptPath, []domain.SlotSpec{})

	b := New(nil, matcher.Anchor{})
	_, err := b.Build(trimmedDir, scriptPath, filepath.Join(dir, "source.wav"), filepath.Join(dir, "candidates.json"), filepath.Join(dir, "out.json"))
	if err == nil {
		t.Fatal("expected error building from an empty script")
	}
}

func TestBuildToleratesMissingCandidatesManifest(t *testing.T) {
	dir := t.TempDir()
	trimmedDir := filepath.Join(dir, "trimmed")
	if err := os.MkdirAll(trimmedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeCandidateWav(t, trimmedDir, "0_hello.wav", 1000)
	sourceAudio := writeSourceAudio(t, dir, 2000)

	scriptPath := filepath.Join(dir, "script.json")
	writeJSON(t, scriptPath, []domain.SlotSpec{
		{ExpectedText: "line", ExpectedDurationMs: 1000, ExpectedRole: "narrator", StartMs: 0},
	})

	b := New(nil, matcher.Anchor{Path: "/anchor.wav"})
	// candidates.json intentionally absent
	summary, err := b.Build(trimmedDir, scriptPath, sourceAudio, filepath.Join(dir, "candidates.json"), filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// with no manifest, the trimmed file carries a blank role and can never
	// match the slot's expected role -> falls back to the anchor.
	if summary.AnchorCount != 1 {
		t.Fatalf("expected anchor fallback when the manifest is missing, got anchor=%d cloned=%d", summary.AnchorCount, summary.ClonedCount)
	}
}

func TestBuildFailsWhenAnchorFallbackCannotDecodeSourceAudio(t *testing.T) {
	dir := t.TempDir()
	trimmedDir := filepath.Join(dir, "trimmed")
	if err := os.MkdirAll(trimmedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	scriptPath := filepath.Join(dir, "script.json")
	writeJSON(t, scriptPath, []domain.SlotSpec{
		{ExpectedText: "line", ExpectedDurationMs: 1000, ExpectedRole: "narrator", StartMs: 0},
	})

	b := New(nil, matcher.Anchor{Path: "/anchor.wav"})
	_, err := b.Build(trimmedDir, scriptPath, filepath.Join(dir, "missing-source.wav"), filepath.Join(dir, "candidates.json"), filepath.Join(dir, "out.json"))
	if err == nil {
		t.Fatal("expected an error when the source audio needed for anchor fallback cannot be decoded")
	}
}
