package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks chan []byte
	stops  atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte)}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	if s.stops.Add(1) == 1 {
		close(s.chunks)
	}
	return nil
}

func TestLeaseExclusiveOwnership(t *testing.T) {
	var opens atomic.Int32
	stream := newFakeStream()
	lease := NewLease(nil, MicrophoneFunc(func(context.Context) (Stream, error) {
		opens.Add(1)
		return stream, nil
	}))

	got, err := lease.Acquire(context.Background(), OwnerRecognition)
	require.NoError(t, err)
	require.Same(t, stream, got)
	require.Equal(t, OwnerRecognition, lease.Holder())

	again, err := lease.Acquire(context.Background(), OwnerRecognition)
	require.NoError(t, err)
	require.Same(t, stream, again)
	require.Equal(t, int32(1), opens.Load())

	_, err = lease.Acquire(context.Background(), OwnerCapture)
	require.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Release(OwnerCapture))
	require.Equal(t, OwnerRecognition, lease.Holder())

	require.NoError(t, lease.Release(OwnerRecognition))
	require.Equal(t, OwnerNone, lease.Holder())
	require.Equal(t, int32(1), stream.stops.Load())

	require.NoError(t, lease.Release(OwnerRecognition))
	require.Equal(t, int32(1), stream.stops.Load())
}

func TestLeaseOpenFailureIsPermissionDenied(t *testing.T) {
	lease := NewLease(nil, MicrophoneFunc(func(context.Context) (Stream, error) {
		return nil, errors.New("connect pulse server: refused")
	}))

	_, err := lease.Acquire(context.Background(), OwnerCapture)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Contains(t, err.Error(), "refused")
	require.Equal(t, OwnerNone, lease.Holder())
}

func TestLeaseRequiresOwnerAndMicrophone(t *testing.T) {
	_, err := NewLease(nil, nil).Acquire(context.Background(), OwnerNone)
	require.Error(t, err)

	_, err = NewLease(nil, nil).Acquire(context.Background(), OwnerCapture)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestPulseMicrophoneUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := PulseMicrophone{SampleRate: 16000}.Open(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
}
