package pcm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegSource decodes anything ffmpeg understands by running it as a
// subprocess that emits s16le on stdout.
type FFmpegSource struct {
	raw    *RawSource
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer

	waited  bool
	waitErr error
}

// NewFFmpegSource starts ffmpeg reading r from stdin and resampling to
// format.
func NewFFmpegSource(ctx context.Context, path string, r io.Reader, format Format) (*FFmpegSource, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	ffmpeg := exec.CommandContext(ctx, path,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-map", "0:a:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"pipe:1",
	)
	s := &FFmpegSource{cmd: ffmpeg}
	ffmpeg.Stdin = r
	ffmpeg.Stderr = &s.stderr

	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	s.stdout = stdout

	raw, err := NewRawSource(stdout, format)
	if err != nil {
		s.kill()
		return nil, err
	}
	s.raw = raw
	return s, nil
}

func (s *FFmpegSource) Format() Format      { return s.raw.Format() }
func (s *FFmpegSource) TotalSamples() int64 { return -1 }

// ReadSamples reports a failed ffmpeg run as ErrUnsupportedFormat once its
// output runs dry.
func (s *FFmpegSource) ReadSamples(buf []int16) (int, error) {
	n, err := s.raw.ReadSamples(buf)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *FFmpegSource) wait() error {
	if s.waited {
		return s.waitErr
	}
	s.waited = true
	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		s.waitErr = fmt.Errorf("%w: ffmpeg: %v: %s", ErrUnsupportedFormat, err, msg)
	}
	return s.waitErr
}

func (s *FFmpegSource) kill() {
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.waited = true
}

// Close reports how ffmpeg exited. A run stopped before its output was
// read to the end is killed and not reported.
func (s *FFmpegSource) Close() error {
	if s.waited {
		return s.waitErr
	}
	s.kill()
	return nil
}

var _ Source = (*FFmpegSource)(nil)
