// Package transcode normalizes raw recordings with ffmpeg: 29.97 fps,
// resolution capped at 1920x1080, H.264/AAC. Output lands in the item's
// corrected_format/ subdirectory; the raw file is kept for audit.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"mediarelay/internal/domain"
	"mediarelay/internal/media"
	"mediarelay/internal/ports"
)

const outputSuffix = "_29.97fps_1080p.mp4"

// Runner invokes ffmpeg with a hard per-artifact execution timeout.
type Runner struct {
	ffmpegPath string
	timeout    time.Duration
	minBytes   int64
	logger     *slog.Logger
}

var _ ports.Transform = (*Runner)(nil)

// NewRunner resolves the ffmpeg binary from PATH when ffmpegPath is empty.
func NewRunner(ffmpegPath string, timeout time.Duration, minBytes int64, logger *slog.Logger) (*Runner, error) {
	if ffmpegPath == "" {
		resolved, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = resolved
	}
	return &Runner{ffmpegPath: ffmpegPath, timeout: timeout, minBytes: minBytes, logger: logger}, nil
}

// Transform converts one raw artifact. A pre-existing output file short-
// circuits to success, which keeps re-invocation after a ledger write
// failure harmless. Timeouts and nonzero exits are transient.
func (r *Runner) Transform(ctx context.Context, artifact domain.Artifact) (domain.Artifact, error) {
	outPath := r.outputPath(artifact.Path)
	if existing, err := media.StatArtifact(outPath, domain.StageTransform); err == nil {
		if existing.SizeBytes >= r.minBytes {
			r.debug("already converted", "output", filepath.Base(outPath))
			return existing, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageTransform, domain.KindTransient,
			fmt.Errorf("create output dir: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := Args(artifact.Path, outPath)
	cmd := exec.CommandContext(runCtx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return domain.Artifact{}, domain.NewStageError(domain.StageTransform, domain.KindTransient,
			fmt.Errorf("ffmpeg exceeded %s for %s", r.timeout, filepath.Base(artifact.Path)))
	}
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageTransform, domain.KindTransient,
			fmt.Errorf("ffmpeg failed: %w: %s", err, lastLines(stderr.String(), 5)))
	}

	out, err := media.StatArtifact(outPath, domain.StageTransform)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageTransform, domain.KindTransient, err)
	}
	if out.SizeBytes < r.minBytes {
		return domain.Artifact{}, domain.NewStageError(domain.StageTransform, domain.KindTransient,
			fmt.Errorf("output %s is only %d bytes", filepath.Base(outPath), out.SizeBytes))
	}

	r.debug("converted", "output", filepath.Base(outPath), "bytes", out.SizeBytes)
	return out, nil
}

// outputPath places the normalized file in the sibling corrected_format/
// directory, named after the input stem.
func (r *Runner) outputPath(inputPath string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(filepath.Dir(inputPath), media.NormalizedSubdir, media.Sanitize(stem)+outputSuffix)
}

// Args builds the ffmpeg argument list for one conversion.
func Args(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-r", "29.97",
		"-vf", "scale='min(1920,iw)':'min(1080,ih)':force_original_aspect_ratio=decrease",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "medium",
		"-crf", "23",
		"-y",
		outputPath,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func (r *Runner) debug(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
