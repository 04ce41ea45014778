// Package ffmpeg shells out to the external encoder for phase-2 transcoding
// and container probing.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

const defaultTimeout = 10 * time.Minute

// Transcoder re-encodes the intermediate container into H.264 video in an
// MP4 container, the pairing standard browser video elements play without
// plugins.
type Transcoder struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewTranscoder(timeout time.Duration, logger *zap.Logger) *Transcoder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Transcoder{timeout: timeout, logger: logger}
}

func (t *Transcoder) Transcode(ctx context.Context, srcPath, dstPath string, profile pipeline.CompatProfile) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", srcPath,
		"-vcodec", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	}
	if profile == pipeline.ProfileBaseline {
		args = append(args, "-profile:v", "baseline", "-level", "3.0")
	}
	args = append(args, dstPath)

	t.logger.Info("transcoding to h264",
		zap.String("src", srcPath),
		zap.String("dst", dstPath),
		zap.Bool("baseline_profile", profile == pipeline.ProfileBaseline),
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", err, tail(string(output), 500))
	}
	return nil
}

// Probe returns the container duration in seconds via ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
