// Package matcher implements the four-tier candidate-selection funnel that
// picks the best reference audio clip for each scripted timeline slot: L1
// strict role-identity filter, L1.5 physical duration-ratio constraint, L2
// weighted scoring, and L3 decision dispatch. L3 falls back to the anchor
// clip both when no candidate survives L1/L1.5 and when the best surviving
// candidate's score is below Level2Threshold.
//
// Grounded on the original source's scripts/audio_matcher.py (AudioMatcher
// class and its four private filter/score/decide stages), with L3 adapted
// to the stricter anchor-on-low-score dispatch rule.
package matcher

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/audiostory/orchestrator/internal/domain"
)

// EmbeddingProvider computes a fixed-dimensionality semantic embedding for
// a piece of text. Implementations may cache results (see internal/embed).
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// ScoreBreakdown records each weighted component of a candidate's L2 score,
// surfaced for diagnostics and tests.
type ScoreBreakdown struct {
	Timbre          float64
	Prosody         float64
	Vector          float64
	NoisePenalty    float64
	DurationPenalty float64
}

// Total sums the breakdown's components into the overall L2 score.
func (b ScoreBreakdown) Total() float64 {
	return b.Timbre + b.Prosody + b.Vector + b.NoisePenalty + b.DurationPenalty
}

// MatchLevel names which tier of the funnel produced a Match.
type MatchLevel string

const (
	LevelPerfectClone       MatchLevel = "Level 1: Perfect Clone"
	LevelCrossModeCompensation MatchLevel = "Level 2: Cross-mode Compensation"
	LevelForcedMatch        MatchLevel = "Level 3: Imperfect Match (Forced)"
	LevelAnchorFallback     MatchLevel = "Level 3: Anchor Fallback"
)

// Match is the funnel's decision for one SlotSpec.
type Match struct {
	Candidate      domain.AudioCandidate
	Level          MatchLevel
	Score          float64
	Breakdown      ScoreBreakdown
	DurationRatio  float64
	IsAnchor       bool
	FallbackStage  string
	FallbackReason string
}

// Anchor is the universal fallback clip used when L1 or L1.5 eliminates
// every candidate. AnchorPath is supplied by the caller (the emotion
// folder's declared anchor file, or a configured default).
type Anchor struct {
	Path string
}

// Matcher scores a fixed candidate library against scripted slots.
type Matcher struct {
	library  []domain.AudioCandidate
	embedder EmbeddingProvider
	anchor   Anchor
}

// New constructs a Matcher over library, using embedder for semantic vector
// scoring (§6.2's EmbeddingProvider collaborator).
func New(library []domain.AudioCandidate, embedder EmbeddingProvider, anchor Anchor) *Matcher {
	return &Matcher{library: library, embedder: embedder, anchor: anchor}
}

// BestMatch runs the full L1 -> L1.5 -> L2 -> L3 funnel for one slot.
func (m *Matcher) BestMatch(slot domain.SlotSpec) Match {
	roleMatches := m.filterByRole(slot)
	if len(roleMatches) == 0 {
		return m.anchorMatch("L1", "no candidate with matching role")
	}

	durationMatches, ratios, penalties := m.filterByDuration(slot, roleMatches)
	if len(durationMatches) == 0 {
		return m.anchorMatch("L1.5", "duration ratio outside the red zone for every candidate")
	}

	scored := make([]Match, len(durationMatches))
	for i, cand := range durationMatches {
		breakdown := m.score(slot, cand, penalties[cand.ID])
		scored[i] = Match{
			Candidate:     cand,
			Breakdown:     breakdown,
			Score:         breakdown.Total(),
			DurationRatio: ratios[cand.ID],
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Candidate.Index < scored[j].Candidate.Index
	})

	return m.decide(scored)
}

func (m *Matcher) filterByRole(slot domain.SlotSpec) []domain.AudioCandidate {
	var out []domain.AudioCandidate
	for _, c := range m.library {
		if c.Role == slot.ExpectedRole {
			out = append(out, c)
		}
	}
	return out
}

// filterByDuration applies the L1.5 physical constraint: candidates whose
// duration ratio falls in the red zone are discarded outright; candidates
// in the penalty zone (between red and green) are kept but flagged so L2
// can apply PenaltyDuration.
func (m *Matcher) filterByDuration(slot domain.SlotSpec, candidates []domain.AudioCandidate) ([]domain.AudioCandidate, map[string]float64, map[string]bool) {
	targetMs := slot.ExpectedDurationMs
	if targetMs <= 0 {
		targetMs = int64(estimateTextDurationSeconds(slot.ExpectedText) * 1000)
	}

	var kept []domain.AudioCandidate
	ratios := make(map[string]float64, len(candidates))
	penalties := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		refMs := c.DurationMs
		if refMs <= 0 {
			refMs = 1000
		}
		ratio := float64(targetMs) / float64(refMs)

		if ratio > DurationRatioRedZoneMax || ratio < DurationRatioRedZoneMin {
			continue
		}

		isPenalty := ratio > DurationRatioGreenZoneMax || ratio < DurationRatioGreenZoneMin
		ratios[c.ID] = ratio
		penalties[c.ID] = isPenalty
		kept = append(kept, c)
	}

	return kept, ratios, penalties
}

func (m *Matcher) score(slot domain.SlotSpec, c domain.AudioCandidate, durationPenalty bool) ScoreBreakdown {
	b := ScoreBreakdown{
		Timbre:       scoreTimbre(slot, c),
		Prosody:      scoreProsody(slot, c),
		Vector:       m.scoreVector(slot, c),
		NoisePenalty: scoreNoisePenalty(slot, c),
	}
	if durationPenalty {
		b.DurationPenalty = PenaltyDuration
	}
	return b
}

func scoreTimbre(slot domain.SlotSpec, c domain.AudioCandidate) float64 {
	target := slot.Timbral.VocalMode
	if target == c.VocalMode {
		return ScoreTimbrePerfect
	}
	for _, fallback := range VocalModeFallbackMap[target] {
		if fallback == c.VocalMode {
			return ScoreTimbreFallback
		}
	}
	return 0
}

func scoreProsody(slot domain.SlotSpec, c domain.AudioCandidate) float64 {
	var score float64
	if absFloat(slot.Prosodic.EnergyLevel-c.EnergyLevel) <= EnergyLevelTolerance {
		score += ScoreProsodyEnergy
	}
	if slot.Prosodic.PitchCurve != "" && slot.Prosodic.PitchCurve == c.PitchCurve {
		score += ScoreProsodyPitch
	}
	return score
}

func (m *Matcher) scoreVector(slot domain.SlotSpec, c domain.AudioCandidate) float64 {
	if m.embedder == nil || slot.SemanticVectorDesc == "" || c.SemanticDesc == "" {
		return 0
	}

	target, err := m.embedder.Embed(slot.SemanticVectorDesc)
	if err != nil {
		return 0
	}
	candidate, err := m.embedder.Embed(c.SemanticDesc)
	if err != nil {
		return 0
	}

	sim := cosineSimilarity(target, candidate)
	if sim < 0 {
		sim = 0
	}
	return sim * ScoreVectorMax
}

func scoreNoisePenalty(slot domain.SlotSpec, c domain.AudioCandidate) float64 {
	if slot.Physiological.MouthArtifact != "clean" {
		return 0
	}

	hasBreathExemption := slot.Physiological.BreathMark != "none" && containsTag(c.Tags, "breath")
	if hasBreathExemption {
		return 0
	}

	for _, tag := range c.Tags {
		if NoiseTags[tag] {
			return PenaltyNoise
		}
	}
	return 0
}

// decide applies the L3 dispatch: S < Level2Threshold or an empty admitted
// set both fall back to the anchor; only a candidate scoring at or above
// Level2Threshold is ever cast.
func (m *Matcher) decide(scored []Match) Match {
	if len(scored) == 0 {
		return m.anchorMatch("L3", "no candidates survived duration filtering")
	}

	best := scored[0]
	switch {
	case best.Score >= Level1Threshold:
		best.Level = LevelPerfectClone
		return best
	case best.Score >= Level2Threshold:
		best.Level = LevelCrossModeCompensation
		return best
	default:
		return m.anchorMatch("L3", fmt.Sprintf("best candidate score %.1f below compensation threshold %.1f", best.Score, Level2Threshold))
	}
}

func (m *Matcher) anchorMatch(stage, reason string) Match {
	return Match{
		Candidate: domain.AudioCandidate{
			ID:         AnchorID,
			Role:       "universal",
			SourcePath: m.anchor.Path,
		},
		Level:          LevelAnchorFallback,
		IsAnchor:       true,
		FallbackStage:  stage,
		FallbackReason: reason,
	}
}

var (
	chineseCharRe = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	punctuationRe = regexp.MustCompile(`[，。！？、；：""（）《》【】…—,.!?;:"'()\[\]\-]`)
)

// estimateTextDurationSeconds estimates spoken duration from character
// counts when a slot doesn't carry an explicit expected duration.
func estimateTextDurationSeconds(text string) float64 {
	chineseChars := len(chineseCharRe.FindAllString(text, -1))
	punctuation := len(punctuationRe.FindAllString(text, -1))
	return float64(chineseChars)*DurationPerChineseChar + float64(punctuation)*DurationPerPunctuation
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (sqrt(magA) * sqrt(magB))
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	// Newton's method; avoids importing math solely for one call site used
	// in a tight scoring loop.
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
