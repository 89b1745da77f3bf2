// Package doctor runs readiness diagnostics for config, audio, and the remote
// collaborators.
package doctor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/provider/grpcresponder"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, config, and collaborator checks.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory available", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkAudioSelection(ctx, cfg))
	checks = append(checks, checkRecognition(cfg, loaded.Secrets))

	switch cfg.Responder.Backend {
	case config.ResponderGRPC:
		checks = append(checks, checkGRPCResponder(ctx, cfg.Responder))
	default:
		checks = append(checks, checkOpenAIKey(loaded.Secrets, "responder.openai"))
	}
	checks = append(checks, checkOpenAIKey(loaded.Secrets, "speech.openai"))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	if predicate(os.Getenv(name)) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkRecognition(cfg config.Config, secrets config.Secrets) Check {
	switch {
	case cfg.Recognition.Backend == config.RecognitionNone:
		return Check{Name: "recognition", Pass: false, Message: "backend is none; continuous mode unavailable"}
	case secrets.DeepgramAPIKey == "":
		return Check{Name: "recognition", Pass: false, Message: "DEEPGRAM_API_KEY not set; continuous mode unavailable"}
	default:
		return Check{Name: "recognition", Pass: true, Message: fmt.Sprintf("deepgram %s", cfg.Deepgram.Model)}
	}
}

func checkOpenAIKey(secrets config.Secrets, name string) Check {
	if secrets.OpenAIAPIKey != "" {
		return Check{Name: name, Pass: true, Message: "OPENAI_API_KEY set"}
	}
	if secrets.OpenAIBaseURL != "" {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("using %s without a key", secrets.OpenAIBaseURL)}
	}
	return Check{Name: name, Pass: false, Message: "OPENAI_API_KEY not set"}
}

// checkGRPCResponder dials the reply service and asks grpc.health.v1 for its status.
func checkGRPCResponder(ctx context.Context, cfg config.ResponderConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	responder, err := grpcresponder.Dial(ctx, grpcresponder.Config{
		Target:        cfg.GRPCTarget,
		Method:        cfg.GRPCMethod,
		HealthService: cfg.GRPCHealthService,
		DialTimeout:   2 * time.Second,
	})
	if err != nil {
		return Check{Name: "responder.grpc", Pass: false, Message: err.Error()}
	}
	defer func() { _ = responder.Close() }()

	if err := responder.Check(ctx); err != nil {
		return Check{Name: "responder.grpc", Pass: false, Message: err.Error()}
	}
	return Check{Name: "responder.grpc", Pass: true, Message: fmt.Sprintf("serving at %s", cfg.GRPCTarget)}
}
