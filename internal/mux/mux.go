// Package mux writes downloaded streams to disk and remuxes them into one
// container with ffmpeg, without transcoding.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"svtdl/internal/logger"
)

// DefaultFFmpeg is the ffmpeg binary looked up in PATH.
const DefaultFFmpeg = "ffmpeg"

// Runner runs an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Muxer combines a video and an audio buffer into an output file.
type Muxer struct {
	ffmpeg  string
	fs      afero.Fs
	tempDir string
	run     Runner
	logger  logger.Logger
}

// Option configures a Muxer.
type Option func(*Muxer)

// WithFFmpeg sets the ffmpeg binary.
func WithFFmpeg(path string) Option {
	return func(m *Muxer) {
		if path != "" {
			m.ffmpeg = path
		}
	}
}

// WithFs sets the filesystem intermediate files are written to. ffmpeg reads
// them by path, so only an OS-backed filesystem works outside tests.
func WithFs(fs afero.Fs) Option {
	return func(m *Muxer) { m.fs = fs }
}

// WithTempDir sets the parent directory for intermediate files.
func WithTempDir(dir string) Option {
	return func(m *Muxer) { m.tempDir = dir }
}

// WithRunner replaces command execution.
func WithRunner(r Runner) Option {
	return func(m *Muxer) { m.run = r }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Muxer) { m.logger = log }
}

// New creates a Muxer using the OS filesystem and ffmpeg from PATH.
func New(opts ...Option) *Muxer {
	m := &Muxer{
		ffmpeg: DefaultFFmpeg,
		fs:     afero.NewOsFs(),
		run:    execRunner,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNop(m.logger)
	return m
}

// Args returns the ffmpeg arguments that copy every input into output.
func Args(output string, inputs ...string) []string {
	args := []string{"-y", "-loglevel", "error"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	return append(args, "-c", "copy", output)
}

// Mux writes video and audio to a temporary directory and remuxes them into
// output. Either buffer may be empty, but not both.
func (m *Muxer) Mux(ctx context.Context, output string, video, audio []byte) error {
	if len(video) == 0 && len(audio) == 0 {
		return errors.New("nothing to mux")
	}

	dir, err := afero.TempDir(m.fs, m.tempDir, "svtdl-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if err := m.fs.RemoveAll(dir); err != nil {
			m.logger.Warnf("Failed to remove %s: %v", dir, err)
		}
	}()

	var inputs []string
	for _, part := range []struct {
		name string
		data []byte
	}{
		{"video.mp4", video},
		{"audio.m4a", audio},
	} {
		if len(part.data) == 0 {
			continue
		}
		p := filepath.Join(dir, part.name)
		if err := afero.WriteFile(m.fs, p, part.data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", part.name, err)
		}
		inputs = append(inputs, p)
	}

	if outDir := filepath.Dir(output); outDir != "." {
		if err := m.fs.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	args := Args(output, inputs...)
	m.logger.Debugf("Running %s %s", m.ffmpeg, strings.Join(args, " "))
	if out, err := m.run(ctx, m.ffmpeg, args...); err != nil {
		if msg := bytes.TrimSpace(out); len(msg) > 0 {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	m.logger.Infof("Wrote %s", output)
	return nil
}
