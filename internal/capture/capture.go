// Package capture records push-to-talk utterances from the leased microphone
// and hands them to a Transcriber.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/voice"
)

var ErrNoAudio = errors.New("no audio captured")

// Lease is the microphone ownership the controller needs.
type Lease interface {
	Acquire(ctx context.Context, owner audio.Owner) (audio.Stream, error)
	Release(owner audio.Owner) error
}

// Result describes one finished recording.
type Result struct {
	Transcript    string
	BytesCaptured int
	Duration      time.Duration
}

type Options struct {
	SampleRate int
	// DumpDir receives a WAV copy of each recording when set.
	DumpDir string
}

type take struct {
	mu      sync.Mutex
	pcm     bytes.Buffer
	done    chan struct{}
	started time.Time
}

type Controller struct {
	logger      *slog.Logger
	lease       Lease
	transcriber voice.Transcriber
	opts        Options
	now         func() time.Time

	mu      sync.Mutex
	current *take
}

func NewController(logger *slog.Logger, lease Lease, transcriber voice.Transcriber, opts Options) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	return &Controller{
		logger:      logger,
		lease:       lease,
		transcriber: transcriber,
		opts:        opts,
		now:         time.Now,
	}
}

// StartRecording takes the microphone and buffers audio until
// StopRecording or Cancel. Starting while recording is a no-op.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return nil
	}

	stream, err := c.lease.Acquire(ctx, audio.OwnerCapture)
	if err != nil {
		return err
	}

	t := &take{done: make(chan struct{}), started: c.now()}
	c.current = t
	go t.collect(stream)

	c.logger.Debug("recording started")
	return nil
}

func (t *take) collect(stream audio.Stream) {
	defer close(t.done)
	for chunk := range stream.Chunks() {
		t.mu.Lock()
		t.pcm.Write(chunk)
		t.mu.Unlock()
	}
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// StopRecording releases the microphone and transcribes what was captured.
// Stopping when not recording returns a zero Result and no error.
func (c *Controller) StopRecording(ctx context.Context) (Result, error) {
	t := c.detach()
	if t == nil {
		return Result{}, nil
	}

	t.mu.Lock()
	pcm := bytes.Clone(t.pcm.Bytes())
	t.mu.Unlock()

	result := Result{BytesCaptured: len(pcm), Duration: c.now().Sub(t.started)}
	c.logger.Debug("recording stopped", "bytes", result.BytesCaptured, "duration_ms", result.Duration.Milliseconds())
	if len(pcm) == 0 {
		return result, ErrNoAudio
	}

	wav := audio.EncodeWAV(pcm, audio.Mono16(c.opts.SampleRate))
	c.dump(wav)

	if c.transcriber == nil {
		return result, &voice.TranscriptionError{Message: "no transcriber configured"}
	}
	text, err := c.transcriber.Transcribe(ctx, wav)
	if err != nil {
		var transcriptionErr *voice.TranscriptionError
		if !errors.As(err, &transcriptionErr) {
			err = &voice.TranscriptionError{Message: err.Error(), Err: err}
		}
		return result, err
	}
	result.Transcript = strings.TrimSpace(text)
	return result, nil
}

// Cancel discards the current recording. Cancelling when not recording is a
// no-op.
func (c *Controller) Cancel() {
	if t := c.detach(); t != nil {
		c.logger.Debug("recording cancelled")
	}
}

// detach ends the current take and waits for its buffered tail.
func (c *Controller) detach() *take {
	c.mu.Lock()
	t := c.current
	c.current = nil
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	if err := c.lease.Release(audio.OwnerCapture); err != nil {
		c.logger.Warn("release microphone", "error", err.Error())
	}
	<-t.done
	return t
}

func (c *Controller) dump(wav []byte) {
	if c.opts.DumpDir == "" {
		return
	}
	if err := os.MkdirAll(c.opts.DumpDir, 0o700); err != nil {
		c.logger.Warn("unable to create debug audio dir", "error", err.Error())
		return
	}
	name := fmt.Sprintf("capture-%s.wav", c.now().Format("20060102-150405.000"))
	path := filepath.Join(c.opts.DumpDir, name)
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		c.logger.Warn("unable to write debug audio dump", "error", err.Error())
		return
	}
	c.logger.Debug("wrote debug audio dump", "path", path)
}
