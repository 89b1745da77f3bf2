// Package voice defines the remote collaborators a conversation depends on
// and the errors they report.
package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/parley/internal/conversation"
)

// ErrEmptyAudio is returned by a Speaker that produced no audio.
var ErrEmptyAudio = errors.New("speaker returned empty audio")

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Responder interface {
	Complete(ctx context.Context, messages []conversation.Message) (string, error)
}

type Speaker interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Audio is a synthesized clip and its media type, e.g. "audio/wav".
type Audio struct {
	Data        []byte
	ContentType string
}

type TranscriptionError struct {
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("transcription failed: %v", e.Err)
	}
	return "transcription failed: " + e.Message
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

type ResponderError struct {
	Err error
}

func (e *ResponderError) Error() string { return fmt.Sprintf("responder failed: %v", e.Err) }

func (e *ResponderError) Unwrap() error { return e.Err }

type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis failed: %v", e.Err) }

func (e *SynthesisError) Unwrap() error { return e.Err }

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, messages []conversation.Message) (string, error)

func (f ResponderFunc) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	return f(ctx, messages)
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) (Audio, error)

func (f SpeakerFunc) Synthesize(ctx context.Context, text string) (Audio, error) {
	return f(ctx, text)
}
