// Package tts implements the Step 1 Voice Cloning collaborator: a
// subprocess-backed TTSCloner that hands each dialogue line's text and
// emotion reference clip to an external TTS helper process, one call per
// line, serialized across tasks by the GPU gate above this package.
//
// Grounded on the original source's scripts/auto_voice_cloner.py
// (per-record loop, filename sanitation, {sort}_{text}.wav naming) with
// the actual model call replaced by the subprocess boundary described in
// the teacher pack's command-runner idiom (internal/subproc).
package tts

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/audiostory/orchestrator/internal/subproc"
)

// CloneResult is the outcome of cloning one dialogue line.
type CloneResult struct {
	Success    bool
	Error      string
	DurationMs int64
}

// Cloner is the TTSCloner collaborator contract (§6.2).
type Cloner interface {
	CloneWithEmotionAudio(ctx context.Context, text, speakerWav, emotionWav, outputPath string) (CloneResult, error)
}

// helperResponse is the JSON shape the external TTS helper process returns on stdout.
type helperResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// helperRequest is the JSON shape piped to the helper process's stdin.
type helperRequest struct {
	Text           string `json:"text"`
	SpeakerWavPath string `json:"speaker_wav_path"`
	EmotionWavPath string `json:"emotion_wav_path"`
	OutputPath     string `json:"output_path"`
}

// SubprocessCloner invokes a fixed external helper binary per clone call.
type SubprocessCloner struct {
	runner     *subproc.Runner
	helperPath string
	timeout    int64 // seconds; 0 uses subproc.DefaultTimeout
}

// NewSubprocessCloner builds a Cloner that shells out to helperPath.
func NewSubprocessCloner(runner *subproc.Runner, helperPath string) *SubprocessCloner {
	return &SubprocessCloner{runner: runner, helperPath: helperPath}
}

func (c *SubprocessCloner) CloneWithEmotionAudio(ctx context.Context, text, speakerWav, emotionWav, outputPath string) (CloneResult, error) {
	req := subproc.Request{
		Argv: []string{c.helperPath},
		Stdin: helperRequest{
			Text:           text,
			SpeakerWavPath: speakerWav,
			EmotionWavPath: emotionWav,
			OutputPath:     outputPath,
		},
	}

	var resp helperResponse
	if err := c.runner.Invoke(ctx, "voice_cloning", req, &resp); err != nil {
		return CloneResult{}, err
	}

	return CloneResult{Success: resp.Success, Error: resp.Error, DurationMs: resp.DurationMs}, nil
}

var (
	illegalCharsRe = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnderscoreRe = regexp.MustCompile(`_{2,}`)
	llmTimestampPrefixRe = regexp.MustCompile(`^llm_\d+_[\d.]+s_`)
)

const maxSanitizedLen = 50

// SanitizeFilename cleans free-form dialogue text into a safe filename
// component: strips filesystem-illegal characters, collapses repeated
// underscores, strips a leading "llm_<digits>_<n>s_" marker some upstream
// transcripts carry, and truncates to 50 code points.
func SanitizeFilename(text string) string {
	clean := illegalCharsRe.ReplaceAllString(text, "_")
	clean = strings.TrimSpace(clean)
	clean = repeatedUnderscoreRe.ReplaceAllString(clean, "_")

	clean = llmTimestampPrefixRe.ReplaceAllString(clean, "")

	if utf8.RuneCountInString(clean) > maxSanitizedLen {
		clean = truncateRunes(clean, maxSanitizedLen)
	}

	if clean == "" {
		clean = "line"
	}
	return clean
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// OutputFilename composes the cloned-line output filename: "{sort}_{clean
// text}.wav", with a disambiguator suffix appended when sort values
// collide within a single dialogue batch (the disambiguator is the
// record's position in the sort-ordered dialogue array, not the sort value
// itself).
func OutputFilename(sort int, text string, disambiguator int) string {
	clean := SanitizeFilename(text)
	if disambiguator > 0 {
		return fmt.Sprintf("%d_%s_%d.wav", sort, clean, disambiguator)
	}
	return fmt.Sprintf("%d_%s.wav", sort, clean)
}

// ParseSortFromFilename extracts the leading sort number from a cloned or
// trimmed filename produced by OutputFilename, for re-associating trimmed
// files with their originating dialogue record.
func ParseSortFromFilename(name string) (int, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, false
	}
	return n, true
}
