// Package playback speaks text through a Speaker and the audio output.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/voice"
)

var (
	ErrBusy            = errors.New("playback already in progress")
	ErrNothingToSay    = errors.New("nothing to say")
	ErrSynthesisEmpty  = errors.New("synthesized audio is empty")
	ErrSynthesisFormat = errors.New("synthesized audio has an unsupported format")
)

// Player renders decoded PCM until it ends or ctx is done.
type Player interface {
	Play(ctx context.Context, pcm []byte, format audio.Format) error
}

type EventKind string

const (
	EventStarted EventKind = "started"
	EventEnded   EventKind = "ended"
	EventError   EventKind = "error"
)

type Event struct {
	Kind EventKind
	Text string
	Err  error
}

type Option func(*Controller)

// WithSilencer registers a function run before audio is requested, used to
// stop anything holding the microphone.
func WithSilencer(fn func()) Option {
	return func(c *Controller) {
		c.silencers = append(c.silencers, fn)
	}
}

func WithObserver(fn func(Event)) Option {
	return func(c *Controller) {
		c.observe = fn
	}
}

type Controller struct {
	logger    *slog.Logger
	speaker   voice.Speaker
	player    Player
	silencers []func()
	observe   func(Event)

	inflight atomic.Bool
}

func NewController(logger *slog.Logger, speaker voice.Speaker, player Player, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Controller{logger: logger, speaker: speaker, player: player}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Speak synthesizes text and plays it to the end. Only one Speak may run at
// a time; a concurrent call fails with ErrBusy.
func (c *Controller) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNothingToSay
	}
	if !c.inflight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.inflight.Store(false)

	for _, silence := range c.silencers {
		silence()
	}

	clip, err := c.speaker.Synthesize(ctx, text)
	if err != nil {
		var synthesisErr *voice.SynthesisError
		if !errors.As(err, &synthesisErr) {
			err = &voice.SynthesisError{Err: err}
		}
		return c.failed(text, err)
	}

	format, pcm, err := decode(clip)
	if err != nil {
		return c.failed(text, err)
	}

	c.emit(Event{Kind: EventStarted, Text: text})
	if err := c.player.Play(ctx, pcm, format); err != nil {
		return c.failed(text, fmt.Errorf("play audio: %w", err))
	}
	c.emit(Event{Kind: EventEnded, Text: text})
	return nil
}

func (c *Controller) failed(text string, err error) error {
	c.logger.Warn("playback failed", "error", err.Error())
	c.emit(Event{Kind: EventError, Text: text, Err: err})
	return err
}

func (c *Controller) emit(ev Event) {
	if c.observe != nil {
		c.observe(ev)
	}
}

// decode validates a synthesized clip and returns its PCM.
func decode(clip voice.Audio) (audio.Format, []byte, error) {
	if len(clip.Data) == 0 {
		return audio.Format{}, nil, ErrSynthesisEmpty
	}

	mediaType, params, err := mime.ParseMediaType(clip.ContentType)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("%w: %q", ErrSynthesisFormat, clip.ContentType)
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		format, pcm, err := audio.DecodeWAV(clip.Data)
		if err != nil {
			return audio.Format{}, nil, fmt.Errorf("%w: %v", ErrSynthesisFormat, err)
		}
		if len(pcm) == 0 {
			return audio.Format{}, nil, ErrSynthesisEmpty
		}
		return format, pcm, nil
	case "audio/pcm", "audio/l16":
		format, err := rawFormat(params)
		if err != nil {
			return audio.Format{}, nil, err
		}
		if len(clip.Data)%(format.Channels*2) != 0 {
			return audio.Format{}, nil, fmt.Errorf("%w: truncated PCM frame", ErrSynthesisFormat)
		}
		return format, clip.Data, nil
	default:
		return audio.Format{}, nil, fmt.Errorf("%w: %q", ErrSynthesisFormat, mediaType)
	}
}

func rawFormat(params map[string]string) (audio.Format, error) {
	format := audio.Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
	if raw, ok := params["rate"]; ok {
		rate, err := strconv.Atoi(raw)
		if err != nil || rate <= 0 {
			return audio.Format{}, fmt.Errorf("%w: rate %q", ErrSynthesisFormat, raw)
		}
		format.SampleRate = rate
	}
	if raw, ok := params["channels"]; ok {
		channels, err := strconv.Atoi(raw)
		if err != nil || channels < 1 || channels > 2 {
			return audio.Format{}, fmt.Errorf("%w: channels %q", ErrSynthesisFormat, raw)
		}
		format.Channels = channels
	}
	return format, nil
}
