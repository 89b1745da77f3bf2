package audio

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// PulsePlayer plays PCM clips on the default Pulse sink.
type PulsePlayer struct{}

func NewPulsePlayer() *PulsePlayer {
	return &PulsePlayer{}
}

// Play blocks until the clip has drained or ctx is done.
func (p *PulsePlayer) Play(ctx context.Context, pcm []byte, format Format) error {
	if format.BitsPerSample != 16 {
		return fmt.Errorf("%w: %d-bit playback", ErrUnsupportedWAV, format.BitsPerSample)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	samples := int16Samples(pcm)
	reader := pulse.Int16Reader(sampleReader(ctx, samples))

	channels := pulse.PlaybackMono
	if format.Channels == 2 {
		channels = pulse.PlaybackStereo
	}

	stream, err := client.NewPlayback(
		reader,
		channels,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("parley reply"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play reply stream: %w", err)
	}
	return ctx.Err()
}

// sampleReader feeds samples to Pulse and ends the stream early once ctx is
// done so Drain returns.
func sampleReader(ctx context.Context, samples []int16) func([]int16) (int, error) {
	cursor := 0
	return func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	}
}

func int16Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
