// Package openai implements the Transcriber, Responder and Speaker
// collaborators on the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/voice"
)

var tracer = otel.Tracer("github.com/rbright/parley/internal/provider/openai")

type Config struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	Language           string
	HTTPClient         *http.Client
}

type Client struct {
	api *openai.Client
	cfg Config
}

var (
	_ voice.Transcriber = (*Client)(nil)
	_ voice.Responder   = (*Client)(nil)
	_ voice.Speaker     = (*Client)(nil)
)

func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg}
}

// Transcribe sends one WAV utterance to the transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("openai.model", c.cfg.TranscriptionModel),
		attribute.Int("audio.bytes", len(audio)),
	)

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio),
		Language: c.cfg.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		fail(span, err)
		return "", &voice.TranscriptionError{Message: describe(err), Err: err}
	}
	return strings.TrimSpace(resp.Text), nil
}

// Complete returns the assistant reply for the conversation so far.
func (c *Client) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("openai.model", c.cfg.ChatModel),
		attribute.Int("conversation.messages", len(messages)),
	)

	request := openai.ChatCompletionRequest{
		Model:    c.cfg.ChatModel,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    chatRole(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		fail(span, err)
		return "", &voice.ResponderError{Err: fmt.Errorf("%s: %w", describe(err), err)}
	}
	if len(resp.Choices) == 0 {
		err := errors.New("completion returned no choices")
		fail(span, err)
		return "", &voice.ResponderError{Err: err}
	}
	return resp.Choices[0].Message.Content, nil
}

// Synthesize renders text as WAV speech.
func (c *Client) Synthesize(ctx context.Context, text string) (voice.Audio, error) {
	ctx, span := tracer.Start(ctx, "openai.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("openai.model", c.cfg.SpeechModel),
		attribute.Int("text.chars", len(text)),
	)

	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		fail(span, err)
		return voice.Audio{}, &voice.SynthesisError{Err: fmt.Errorf("%s: %w", describe(err), err)}
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		fail(span, err)
		return voice.Audio{}, &voice.SynthesisError{Err: fmt.Errorf("read speech: %w", err)}
	}
	if len(data) == 0 {
		fail(span, voice.ErrEmptyAudio)
		return voice.Audio{}, &voice.SynthesisError{Err: voice.ErrEmptyAudio}
	}
	return voice.Audio{Data: data, ContentType: "audio/wav"}, nil
}

func chatRole(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// describe turns API failures into a short operator-facing reason.
func describe(err error) string {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized:
		return "invalid OpenAI API key"
	case status == http.StatusNotFound:
		return "model not found"
	case status == http.StatusTooManyRequests:
		return "OpenAI rate limit exceeded"
	case status == http.StatusBadRequest:
		return "request rejected by OpenAI"
	case status >= 500:
		return "OpenAI internal error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "OpenAI request failed"
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
