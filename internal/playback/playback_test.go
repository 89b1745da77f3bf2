package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/voice"
)

type recordingPlayer struct {
	mu      sync.Mutex
	played  [][]byte
	formats []audio.Format
	block   chan struct{}
	err     error
}

func (p *recordingPlayer) Play(ctx context.Context, pcm []byte, format audio.Format) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, pcm)
	p.formats = append(p.formats, format)
	return p.err
}

func wavSpeaker(pcm []byte) voice.Speaker {
	return voice.SpeakerFunc(func(context.Context, string) (voice.Audio, error) {
		return voice.Audio{Data: audio.EncodeWAV(pcm, audio.Mono16(24000)), ContentType: "audio/wav"}, nil
	})
}

func TestSpeakSilencesBeforeSynthesis(t *testing.T) {
	var order []string
	speaker := voice.SpeakerFunc(func(context.Context, string) (voice.Audio, error) {
		order = append(order, "synthesize")
		return voice.Audio{Data: audio.EncodeWAV([]byte{1, 0}, audio.Mono16(24000)), ContentType: "audio/wav"}, nil
	})
	var events []EventKind
	player := &recordingPlayer{}
	c := NewController(nil, speaker, player,
		WithSilencer(func() { order = append(order, "stop recognition") }),
		WithSilencer(func() { order = append(order, "cancel capture") }),
		WithObserver(func(ev Event) { events = append(events, ev.Kind) }),
	)

	require.NoError(t, c.Speak(context.Background(), "Greetings, traveler."))
	require.Equal(t, []string{"stop recognition", "cancel capture", "synthesize"}, order)
	require.Equal(t, []EventKind{EventStarted, EventEnded}, events)
	require.Equal(t, [][]byte{{1, 0}}, player.played)
	require.Equal(t, 24000, player.formats[0].SampleRate)
}

func TestSpeakRejectsConcurrentCall(t *testing.T) {
	player := &recordingPlayer{block: make(chan struct{})}
	c := NewController(nil, wavSpeaker([]byte{1, 0}), player)

	done := make(chan error, 1)
	go func() { done <- c.Speak(context.Background(), "first") }()

	require.Eventually(t, func() bool { return c.inflight.Load() }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Speak(context.Background(), "second"), ErrBusy)

	close(player.block)
	require.NoError(t, <-done)
	require.NoError(t, c.Speak(context.Background(), "third"))
}

func TestSpeakPayloadValidation(t *testing.T) {
	tests := []struct {
		name string
		clip voice.Audio
		want error
	}{
		{name: "empty", clip: voice.Audio{ContentType: "audio/wav"}, want: ErrSynthesisEmpty},
		{name: "wav without samples", clip: voice.Audio{Data: audio.EncodeWAV(nil, audio.Mono16(16000)), ContentType: "audio/wav"}, want: ErrSynthesisEmpty},
		{name: "mp3", clip: voice.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg"}, want: ErrSynthesisFormat},
		{name: "bad wav", clip: voice.Audio{Data: []byte("garbage"), ContentType: "audio/wav"}, want: ErrSynthesisFormat},
		{name: "missing content type", clip: voice.Audio{Data: []byte{1, 0}}, want: ErrSynthesisFormat},
		{name: "odd pcm", clip: voice.Audio{Data: []byte{1, 0, 2}, ContentType: "audio/pcm;rate=16000"}, want: ErrSynthesisFormat},
		{name: "bad rate", clip: voice.Audio{Data: []byte{1, 0}, ContentType: "audio/L16;rate=fast"}, want: ErrSynthesisFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			player := &recordingPlayer{}
			var events []Event
			speaker := voice.SpeakerFunc(func(context.Context, string) (voice.Audio, error) { return tc.clip, nil })
			c := NewController(nil, speaker, player, WithObserver(func(ev Event) { events = append(events, ev) }))

			err := c.Speak(context.Background(), "hello")
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, player.played)
			require.Len(t, events, 1)
			require.Equal(t, EventError, events[0].Kind)
		})
	}
}

func TestSpeakRawPCM(t *testing.T) {
	player := &recordingPlayer{}
	speaker := voice.SpeakerFunc(func(context.Context, string) (voice.Audio, error) {
		return voice.Audio{Data: []byte{1, 0, 2, 0}, ContentType: "audio/L16; rate=16000; channels=2"}, nil
	})
	c := NewController(nil, speaker, player)

	require.NoError(t, c.Speak(context.Background(), "hello"))
	require.Equal(t, audio.Format{SampleRate: 16000, Channels: 2, BitsPerSample: 16}, player.formats[0])
}

func TestSpeakWrapsSpeakerFailure(t *testing.T) {
	speaker := voice.SpeakerFunc(func(context.Context, string) (voice.Audio, error) {
		return voice.Audio{}, errors.New("tts down")
	})
	c := NewController(nil, speaker, &recordingPlayer{})

	err := c.Speak(context.Background(), "hello")
	var synthesisErr *voice.SynthesisError
	require.ErrorAs(t, err, &synthesisErr)
	require.False(t, c.inflight.Load())
}

func TestSpeakPlayerFailure(t *testing.T) {
	player := &recordingPlayer{err: errors.New("sink gone")}
	var last Event
	c := NewController(nil, wavSpeaker([]byte{1, 0}), player, WithObserver(func(ev Event) { last = ev }))

	err := c.Speak(context.Background(), "hello")
	require.ErrorContains(t, err, "sink gone")
	require.Equal(t, EventError, last.Kind)
}

func TestSpeakEmptyText(t *testing.T) {
	c := NewController(nil, wavSpeaker([]byte{1, 0}), &recordingPlayer{})
	require.ErrorIs(t, c.Speak(context.Background(), "  "), ErrNothingToSay)
}
