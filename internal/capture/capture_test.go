package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/voice"
)

type fakeStream struct {
	chunks chan []byte
	once   sync.Once
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type fakeMicrophone struct {
	mu      sync.Mutex
	current *fakeStream
	opens   atomic.Int32
}

func (m *fakeMicrophone) Open(context.Context) (audio.Stream, error) {
	m.opens.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &fakeStream{chunks: make(chan []byte, 8)}
	return m.current, nil
}

func (m *fakeMicrophone) stream() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func TestStopRecordingTranscribesWAV(t *testing.T) {
	mic := &fakeMicrophone{}
	lease := audio.NewLease(nil, mic)

	var got []byte
	transcriber := voice.TranscriberFunc(func(_ context.Context, wav []byte) (string, error) {
		got = wav
		return " what is the weather ", nil
	})
	c := NewController(nil, lease, transcriber, Options{})

	require.NoError(t, c.StartRecording(context.Background()))
	require.NoError(t, c.StartRecording(context.Background()))
	require.Equal(t, int32(1), mic.opens.Load())
	require.True(t, c.Recording())
	require.Equal(t, audio.OwnerCapture, lease.Holder())

	mic.stream().chunks <- []byte{1, 0, 2, 0}
	mic.stream().chunks <- []byte{3, 0}

	result, err := c.StopRecording(context.Background())
	require.NoError(t, err)
	require.Equal(t, "what is the weather", result.Transcript)
	require.Equal(t, 6, result.BytesCaptured)
	require.False(t, c.Recording())
	require.Equal(t, audio.OwnerNone, lease.Holder())

	format, pcm, err := audio.DecodeWAV(got)
	require.NoError(t, err)
	require.Equal(t, audio.Mono16(16000), format)
	require.Equal(t, []byte{1, 0, 2, 0, 3, 0}, pcm)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	c := NewController(nil, audio.NewLease(nil, &fakeMicrophone{}), nil, Options{})

	result, err := c.StopRecording(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{}, result)

	c.Cancel()
	c.Cancel()
}

func TestEmptyRecordingIsNoAudio(t *testing.T) {
	c := NewController(nil, audio.NewLease(nil, &fakeMicrophone{}), nil, Options{})
	require.NoError(t, c.StartRecording(context.Background()))

	_, err := c.StopRecording(context.Background())
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestTranscriberFailureIsTranscriptionError(t *testing.T) {
	mic := &fakeMicrophone{}
	transcriber := voice.TranscriberFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("upstream 500")
	})
	c := NewController(nil, audio.NewLease(nil, mic), transcriber, Options{})

	require.NoError(t, c.StartRecording(context.Background()))
	mic.stream().chunks <- []byte{1, 0}

	_, err := c.StopRecording(context.Background())
	var transcriptionErr *voice.TranscriptionError
	require.ErrorAs(t, err, &transcriptionErr)
	require.Equal(t, "upstream 500", transcriptionErr.Message)
}

func TestCancelReleasesLease(t *testing.T) {
	mic := &fakeMicrophone{}
	lease := audio.NewLease(nil, mic)
	var calls atomic.Int32
	transcriber := voice.TranscriberFunc(func(context.Context, []byte) (string, error) {
		calls.Add(1)
		return "", nil
	})
	c := NewController(nil, lease, transcriber, Options{})

	require.NoError(t, c.StartRecording(context.Background()))
	mic.stream().chunks <- []byte{1, 0}
	c.Cancel()

	require.False(t, c.Recording())
	require.Equal(t, audio.OwnerNone, lease.Holder())
	require.Zero(t, calls.Load())
}

func TestStartFailsWhenRecognitionHoldsLease(t *testing.T) {
	lease := audio.NewLease(nil, &fakeMicrophone{})
	_, err := lease.Acquire(context.Background(), audio.OwnerRecognition)
	require.NoError(t, err)

	c := NewController(nil, lease, nil, Options{})
	require.ErrorIs(t, c.StartRecording(context.Background()), audio.ErrLeaseHeld)
	require.False(t, c.Recording())
}

func TestDumpWritesWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	mic := &fakeMicrophone{}
	transcriber := voice.TranscriberFunc(func(context.Context, []byte) (string, error) { return "ok", nil })
	c := NewController(nil, audio.NewLease(nil, mic), transcriber, Options{DumpDir: dir})

	require.NoError(t, c.StartRecording(context.Background()))
	mic.stream().chunks <- []byte{1, 0}
	_, err := c.StopRecording(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	info, err := entries[0].Info()
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
