package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/capture"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/httpapi"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/orchestrator"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/provider/deepgram"
	"github.com/rbright/parley/internal/provider/grpcresponder"
	"github.com/rbright/parley/internal/provider/openai"
	"github.com/rbright/parley/internal/recognition"
	"github.com/rbright/parley/internal/voice"
)

const (
	socketProbeTimeout = 180 * time.Millisecond
	socketRetries      = 8
)

// stack is everything the owner process runs.
type stack struct {
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Metrics
	closers      []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// commandRun owns the microphone and speaker until ctx is done.
func (r Runner) commandRun(ctx context.Context, loaded config.Loaded, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, socketProbeTimeout, socketRetries)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	s, err := buildStack(ctx, loaded.Config, loaded.Secrets, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("startup failed", "error", err.Error())
		return 1
	}
	defer s.Close()

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	serveErrs := make(chan error, 2)
	servers := 1
	go func() {
		serveErrs <- ipc.Serve(serveCtx, listener, s.orchestrator)
	}()

	if addr := loaded.Config.HTTP.Listen; addr != "" {
		httpListener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", addr, err)
			return 1
		}
		router := httpapi.NewRouter(logger, s.orchestrator, s.metrics.Handler())
		servers++
		go func() {
			serveErrs <- httpapi.Serve(serveCtx, httpListener, router)
		}()
		logger.Info("http api listening", "addr", httpListener.Addr().String())
	}

	logger.Info("parley running", "socket", socketPath)
	fmt.Fprintf(r.Stdout, "parley running (socket %s)\n", socketPath)

	runErr := s.orchestrator.Run(ctx)
	cancelServe()

	exitCode := 0
	for range servers {
		if err := <-serveErrs; err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(r.Stderr, "error: server failed: %v\n", err)
			exitCode = 1
		}
	}
	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	logger.Info("parley stopped")
	return exitCode
}

// buildStack wires providers, audio and controllers into an orchestrator.
func buildStack(ctx context.Context, cfg config.Config, secrets config.Secrets, logger *slog.Logger) (*stack, error) {
	s := &stack{metrics: metrics.New()}

	client := openai.New(openai.Config{
		APIKey:             secrets.OpenAIAPIKey,
		BaseURL:            secrets.OpenAIBaseURL,
		ChatModel:          cfg.OpenAI.ChatModel,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		SpeechModel:        cfg.OpenAI.SpeechModel,
		Voice:              cfg.OpenAI.Voice,
		Language:           cfg.OpenAI.Language,
		HTTPClient:         &http.Client{Timeout: time.Duration(cfg.Responder.TimeoutMS) * time.Millisecond},
	})

	var responder voice.Responder = client
	if cfg.Responder.Backend == config.ResponderGRPC {
		remote, err := grpcresponder.Dial(ctx, grpcresponder.Config{
			Target:        cfg.Responder.GRPCTarget,
			Method:        cfg.Responder.GRPCMethod,
			HealthService: cfg.Responder.GRPCHealthService,
			CallTimeout:   time.Duration(cfg.Responder.TimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("connect responder: %w", err)
		}
		s.closers = append(s.closers, remote.Close)
		responder = remote
	}

	lease := audio.NewLease(logger, audio.PulseMicrophone{
		Logger:     logger,
		Input:      cfg.Audio.Input,
		Fallback:   cfg.Audio.Fallback,
		SampleRate: cfg.Audio.SampleRate,
	})

	recognizer, err := newRecognizer(cfg, secrets, logger)
	if err != nil {
		return nil, err
	}
	recognitionCtl := recognition.NewController(logger, recognizer, lease)

	captureOpts := capture.Options{SampleRate: cfg.Audio.SampleRate}
	if cfg.Debug.AudioDump {
		if dir, err := logging.StateDir(); err == nil {
			captureOpts.DumpDir = filepath.Join(dir, "audio")
		}
	}
	captureCtl := capture.NewController(logger, lease, client, captureOpts)

	playbackCtl := playback.NewController(logger, client, audio.NewPulsePlayer(),
		playback.WithSilencer(recognitionCtl.Stop),
		playback.WithSilencer(captureCtl.Cancel),
		playback.WithObserver(func(ev playback.Event) {
			if ev.Err != nil {
				logger.Warn("playback event", "kind", string(ev.Kind), "error", ev.Err.Error())
				return
			}
			logger.Debug("playback event", "kind", string(ev.Kind), "chars", len(ev.Text))
		}),
	)

	s.orchestrator = orchestrator.New(orchestrator.Config{
		Logger:      logger,
		Log:         conversation.NewLog(),
		Recognition: recognitionCtl,
		Capture:     captureCtl,
		Playback:    playbackCtl,
		Responder:   responder,
		Lease:       lease,
		Metrics:     s.metrics,
		Options: orchestrator.Options{
			RearmGrace:            time.Duration(cfg.Conversation.RearmGraceMS) * time.Millisecond,
			MaxRecognitionRetries: cfg.Conversation.MaxRecognitionRetries,
			FallbackText:          cfg.Conversation.FallbackText,
			SystemPrompt:          cfg.Conversation.SystemPrompt,
			StartContinuous:       cfg.Conversation.StartContinuous,
		},
	})
	return s, nil
}

// newRecognizer returns nil when continuous mode cannot be offered.
func newRecognizer(cfg config.Config, secrets config.Secrets, logger *slog.Logger) (recognition.Recognizer, error) {
	if cfg.Recognition.Backend != config.RecognitionDeepgram || secrets.DeepgramAPIKey == "" {
		logger.Warn("live recognition unavailable", "backend", cfg.Recognition.Backend)
		return nil, nil
	}

	keywords, _, err := config.BuildKeywords(cfg)
	if err != nil {
		return nil, err
	}
	terms := make([]deepgram.Keyword, 0, len(keywords))
	for _, kw := range keywords {
		terms = append(terms, deepgram.Keyword{Term: kw.Phrase, Boost: kw.Boost})
	}

	return deepgram.NewRecognizer(deepgram.Config{
		APIKey:         secrets.DeepgramAPIKey,
		Endpoint:       cfg.Deepgram.Endpoint,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		SampleRate:     cfg.Audio.SampleRate,
		EndpointingMS:  cfg.Deepgram.EndpointingMS,
		UtteranceEndMS: cfg.Deepgram.UtteranceEndMS,
		KeepAlive:      time.Duration(cfg.Deepgram.KeepAliveMS) * time.Millisecond,
		Keywords:       terms,
		SentenceCase:   cfg.Deepgram.SentenceCase,
	}, logger), nil
}
