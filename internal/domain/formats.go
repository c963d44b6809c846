package domain

// DialogueRecord is one line of the step-1 input dialogue JSON.
type DialogueRecord struct {
	Sort     int    `json:"sort"`
	Text     string `json:"text"`
	EmoAudio string `json:"emo_audio"`
	Role     string `json:"role,omitempty"`
}

// Timbral describes the target vocal-mode attributes of a script slot.
type Timbral struct {
	VocalMode string `json:"vocal_mode"`
}

// Prosodic describes the target energy/pitch attributes of a script slot.
type Prosodic struct {
	EnergyLevel float64 `json:"energy_level"`
	PitchCurve  string  `json:"pitch_curve"`
}

// Physiological describes the target cleanliness attributes of a script slot.
type Physiological struct {
	MouthArtifact string `json:"mouth_artifact"`
	BreathMark    string `json:"breath_mark"`
}

// SlotSpec is one scripted position in the final story timeline (step-3 input).
type SlotSpec struct {
	ExpectedText         string        `json:"expected_text"`
	ExpectedDurationMs    int64         `json:"expected_duration_ms"`
	ExpectedRole          string        `json:"expected_role"`
	StartMs               int64         `json:"start_ms"`
	Timbral               Timbral       `json:"timbral"`
	Prosodic               Prosodic      `json:"prosodic"`
	Physiological          Physiological `json:"physiological"`
	SemanticVectorDesc     string        `json:"semantic_vector_desc"`
}

// SequenceEntryKind distinguishes a cloned candidate from an anchor fallback.
type SequenceEntryKind string

const (
	EntryKindCloned SequenceEntryKind = "cloned"
	EntryKindAnchor SequenceEntryKind = "anchor"
)

// SequenceEntry is one emitted item of the step-3 output / step-4 input timeline.
type SequenceEntry struct {
	StartMs    int64             `json:"start_ms"`
	EndMs      int64             `json:"end_ms"`
	Kind       SequenceEntryKind `json:"kind"`
	SourcePath string            `json:"source_path"`
	GainDb     float64           `json:"gain_db"`
	FadeInMs   int64             `json:"fade_in_ms"`
	FadeOutMs  int64             `json:"fade_out_ms"`
	Mode       string            `json:"mode,omitempty"`
}

// AudioCandidate is one entry in the candidate library the matcher scores against a SlotSpec.
type AudioCandidate struct {
	ID           string   `json:"id"`
	Index        int      `json:"-"`
	Role         string   `json:"role"`
	SourcePath   string   `json:"source_path"`
	DurationMs   int64    `json:"duration_ms"`
	VocalMode    string   `json:"vocal_mode"`
	EnergyLevel  float64  `json:"energy_level"`
	PitchCurve   string   `json:"pitch_curve"`
	Tags         []string `json:"tags"`
	SemanticDesc string   `json:"semantic_desc"`
}

// EmotionClipMeta describes one reference clip in the emotion audio
// folder's manifest (library.json): the semantic/prosodic/timbral tags a
// dialogue line inherits when it is cloned using that clip as the emotion
// reference. This is how the matcher's candidate metadata (vocal_mode,
// energy_level, pitch_curve, tags, semantic_desc) reaches Step 3, since
// neither the dialogue JSON nor the cloned/trimmed WAVs carry it directly.
type EmotionClipMeta struct {
	Filename     string   `json:"filename"`
	VocalMode    string   `json:"vocal_mode"`
	EnergyLevel  float64  `json:"energy_level"`
	PitchCurve   string   `json:"pitch_curve"`
	Tags         []string `json:"tags"`
	SemanticDesc string   `json:"semantic_desc"`
}

// CandidateMeta is the per-line metadata Step 1 records alongside each
// cloned line, inherited from the dialogue record and its resolved emotion
// reference clip. Step 3 reads these back (candidates.json in the task
// root) to build the AudioCandidate library it matches script slots
// against, since the trimmed WAVs on their own carry no semantic tags.
type CandidateMeta struct {
	Sort         int      `json:"sort"`
	Role         string   `json:"role"`
	Filename     string   `json:"filename"`
	VocalMode    string   `json:"vocal_mode"`
	EnergyLevel  float64  `json:"energy_level"`
	PitchCurve   string   `json:"pitch_curve"`
	Tags         []string `json:"tags"`
	SemanticDesc string   `json:"semantic_desc"`
}
