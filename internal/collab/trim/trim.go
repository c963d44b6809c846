// Package trim implements the Step 2 SilenceTrimmer collaborator: an
// RMS-gated leading/trailing silence trim over 16-bit PCM WAV files.
// Grounded on the original source's pydub-based trim_silence_tool.py, but
// re-expressed as plain RMS-over-frame gating since pydub is not available
// in Go and no equivalent library appears anywhere in the retrieval pack.
package trim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/audiostory/orchestrator/internal/wav"
)

const (
	silenceThresholdDBFS = -40.0
	frameMs              = 20
	guardBandMs          = 50
	maxTrimFraction      = 0.5
)

// Result is the outcome of trimming one file.
type Result struct {
	TrimmedMs int64
	Untouched bool
}

// Trimmer is the SilenceTrimmer collaborator.
type Trimmer struct{}

// New constructs a Trimmer.
func New() *Trimmer {
	return &Trimmer{}
}

// Trim removes leading and trailing silence from inputPath, writing the
// result to outputPath. Silence is detected via a -40 dBFS / 20ms-frame RMS
// gate, with a 50ms guard band left on each trimmed edge so word onsets and
// releases are never clipped. No more than 50% of the original duration is
// ever removed: if the gate would trim more than that, the file is emitted
// unchanged and counted as untouched rather than cut down to the cap.
func (t *Trimmer) Trim(inputPath, outputPath string) (Result, error) {
	a, err := wav.DecodeFile(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("trim: decode %s: %w", inputPath, err)
	}

	frames := a.Frames()
	if frames == 0 {
		return Result{Untouched: true}, wav.EncodeFile(outputPath, a)
	}

	frameLen := a.SampleRate * frameMs / 1000
	if frameLen <= 0 {
		frameLen = 1
	}
	guardFrames := a.SampleRate * guardBandMs / 1000

	leadingSilentFrames := countLeadingSilentFrames(a, frameLen)
	trailingSilentFrames := countTrailingSilentFrames(a, frameLen)

	startCut := subtractGuard(leadingSilentFrames, guardFrames)
	endCut := subtractGuard(trailingSilentFrames, guardFrames)

	maxCut := int(float64(frames) * maxTrimFraction)
	if startCut+endCut > maxCut || startCut+endCut >= frames {
		// The gate wants to remove more than the cap allows: leave the file
		// untouched rather than emit a cut-down approximation of it.
		if err := wav.EncodeFile(outputPath, a); err != nil {
			return Result{}, fmt.Errorf("trim: write %s: %w", outputPath, err)
		}
		return Result{Untouched: true}, nil
	}

	if startCut == 0 && endCut == 0 {
		if err := wav.EncodeFile(outputPath, a); err != nil {
			return Result{}, fmt.Errorf("trim: write %s: %w", outputPath, err)
		}
		return Result{Untouched: true}, nil
	}

	trimmed := a.Slice(startCut, frames-endCut)
	if err := wav.EncodeFile(outputPath, trimmed); err != nil {
		return Result{}, fmt.Errorf("trim: write %s: %w", outputPath, err)
	}

	trimmedMs := (a.DurationMs() - trimmed.DurationMs())
	return Result{TrimmedMs: trimmedMs, Untouched: false}, nil
}

func countLeadingSilentFrames(a *wav.Audio, frameLen int) int {
	frames := a.Frames()
	silent := 0
	for pos := 0; pos < frames; pos += frameLen {
		end := pos + frameLen
		if end > frames {
			end = frames
		}
		if wav.DBFS(a.RMSFrame(pos, end)) >= silenceThresholdDBFS {
			break
		}
		silent = end
	}
	return silent
}

func countTrailingSilentFrames(a *wav.Audio, frameLen int) int {
	frames := a.Frames()
	silent := 0
	for pos := frames; pos > 0; pos -= frameLen {
		start := pos - frameLen
		if start < 0 {
			start = 0
		}
		if wav.DBFS(a.RMSFrame(start, pos)) >= silenceThresholdDBFS {
			break
		}
		silent += pos - start
	}
	return silent
}

func subtractGuard(silentFrames, guardFrames int) int {
	cut := silentFrames - guardFrames
	if cut < 0 {
		return 0
	}
	return cut
}

// BatchResult is one file's outcome within a RunBatch call.
type BatchResult struct {
	InputPath  string
	OutputPath string
	Result     Result
	Err        error
}

// RunBatch trims every WAV file in inputDir into outputDir, processing
// files concurrently (bounded fan-out via errgroup, matching the teacher's
// concurrent cleanup idiom) since each file's trim is independent CPU-bound
// work. Succeeds overall as long as at least one file is processed
// successfully.
func RunBatch(ctx context.Context, t *Trimmer, inputDir, outputDir string, maxParallel int) ([]BatchResult, error) {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("trim: read dir %s: %w", inputDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("trim: create output dir: %w", err)
	}

	results := make([]BatchResult, len(names))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			in := filepath.Join(inputDir, name)
			out := filepath.Join(outputDir, name)
			res, err := t.Trim(in, out)
			results[i] = BatchResult{InputPath: in, OutputPath: out, Result: res, Err: err}
			return nil // collect per-file errors without aborting the batch
		})
	}
	_ = g.Wait()

	successCount := 0
	for _, r := range results {
		if r.Err == nil {
			successCount++
		}
	}
	if successCount == 0 && len(results) > 0 {
		return results, fmt.Errorf("trim: all %d files failed to trim", len(results))
	}

	return results, nil
}
