package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Owner names the component holding the microphone.
type Owner string

const (
	OwnerNone        Owner = ""
	OwnerRecognition Owner = "recognition"
	OwnerCapture     Owner = "capture"
)

var (
	ErrLeaseHeld        = errors.New("microphone is held by another owner")
	ErrPermissionDenied = errors.New("microphone access denied")
)

// Stream is an open microphone producing PCM chunks until stopped.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
}

type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) (Stream, error)

func (f MicrophoneFunc) Open(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// Lease grants exclusive use of one microphone stream to a single owner.
type Lease struct {
	logger *slog.Logger
	mic    Microphone

	mu     sync.Mutex
	holder Owner
	stream Stream
}

func NewLease(logger *slog.Logger, mic Microphone) *Lease {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Lease{logger: logger, mic: mic}
}

// Acquire opens the microphone for owner. The current holder gets its
// existing stream back; any other owner fails with ErrLeaseHeld.
func (l *Lease) Acquire(ctx context.Context, owner Owner) (Stream, error) {
	if owner == OwnerNone {
		return nil, errors.New("lease owner is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.holder {
	case owner:
		return l.stream, nil
	case OwnerNone:
	default:
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, l.holder)
	}

	if l.mic == nil {
		return nil, fmt.Errorf("%w: no microphone configured", ErrPermissionDenied)
	}
	stream, err := l.mic.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	l.holder = owner
	l.stream = stream
	l.logger.Debug("microphone acquired", "owner", string(owner))
	return stream, nil
}

// Release stops the stream if owner holds it. Releasing a lease the owner
// does not hold is a no-op.
func (l *Lease) Release(owner Owner) error {
	l.mu.Lock()
	if l.holder != owner || owner == OwnerNone {
		l.mu.Unlock()
		return nil
	}
	stream := l.stream
	l.holder = OwnerNone
	l.stream = nil
	l.mu.Unlock()

	l.logger.Debug("microphone released", "owner", string(owner))
	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("stop microphone stream: %w", err)
	}
	return nil
}

func (l *Lease) Holder() Owner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// PulseMicrophone opens the configured Pulse input on demand.
type PulseMicrophone struct {
	Logger     *slog.Logger
	Input      string
	Fallback   string
	SampleRate int
}

func (m PulseMicrophone) Open(ctx context.Context) (Stream, error) {
	selection, err := SelectDevice(ctx, m.Input, m.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if selection.Warning != "" && m.Logger != nil {
		m.Logger.Warn(selection.Warning, "device", selection.Device.ID)
	}

	capture, err := StartCapture(ctx, selection.Device, m.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return capture, nil
}
