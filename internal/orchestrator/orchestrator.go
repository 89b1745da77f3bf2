// Package orchestrator runs the voice-turn state machine. One goroutine owns
// the voice state, the continuous flag and the turn generation; everything
// else talks to it through its mailbox.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/capture"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/recognition"
	"github.com/rbright/parley/internal/voice"
)

const (
	DefaultRearmGrace            = 600 * time.Millisecond
	DefaultMaxRecognitionRetries = 5
	DefaultFallbackText          = "Sorry, I encountered an error. Please try again."
)

var (
	ErrBusy             = errors.New("another voice operation is in progress")
	ErrContinuousActive = errors.New("push-to-talk is unavailable while continuous mode is on")
	ErrTurnNotFound     = errors.New("turn not found")
	ErrNotAssistantTurn = errors.New("only assistant turns can be replayed")
	ErrStopped          = errors.New("orchestrator is not running")
)

// Recognition is the live recognizer the orchestrator arms between turns.
type Recognition interface {
	Supported() bool
	Events() <-chan recognition.Event
	Start(ctx context.Context) (uint64, error)
	Stop()
	Pending() string
}

// Capture is the push-to-talk recorder.
type Capture interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (capture.Result, error)
	Cancel()
	Recording() bool
}

// Playback speaks text and returns once the audio has finished.
type Playback interface {
	Speak(ctx context.Context, text string) error
}

// LeaseHolder reports who owns the microphone.
type LeaseHolder interface {
	Holder() audio.Owner
}

// Options tunes turn handling. Zero values fall back to package defaults.
type Options struct {
	RearmGrace            time.Duration
	MaxRecognitionRetries int
	FallbackText          string
	SystemPrompt          string
	StartContinuous       bool
}

// Config holds the collaborators an Orchestrator drives. Logger, Log and
// Metrics are optional.
type Config struct {
	Logger      *slog.Logger
	Log         *conversation.Log
	Recognition Recognition
	Capture     Capture
	Playback    Playback
	Responder   voice.Responder
	Lease       LeaseHolder
	Metrics     *metrics.Metrics
	Options     Options
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State                fsm.State `json:"state"`
	Continuous           bool      `json:"continuous"`
	RecognitionSupported bool      `json:"recognition_supported"`
	Recording            bool      `json:"recording"`
	Pending              string    `json:"pending,omitempty"`
	RearmPending         bool      `json:"rearm_pending"`
	Turns                int       `json:"turns"`
}

// Orchestrator owns the voice state machine. All state changes happen on the
// goroutine running Run; the exported methods post work to it.
type Orchestrator struct {
	logger      *slog.Logger
	log         *conversation.Log
	recognition Recognition
	capture     Capture
	playback    Playback
	responder   voice.Responder
	lease       LeaseHolder
	metrics     *metrics.Metrics
	opts        Options

	mailbox chan func()
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	ctx         context.Context
	state       fsm.State
	continuous  bool
	unsupported bool
	session     uint64
	turn        uint64
	faults      int
	rearm       *time.Timer
	rearmGen    uint64

	mu   sync.RWMutex
	snap Status
}

// New builds an Orchestrator from cfg. It does nothing until Run is called.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	log := cfg.Log
	if log == nil {
		log = conversation.NewLog()
	}
	opts := cfg.Options
	if opts.RearmGrace <= 0 {
		opts.RearmGrace = DefaultRearmGrace
	}
	if opts.MaxRecognitionRetries <= 0 {
		opts.MaxRecognitionRetries = DefaultMaxRecognitionRetries
	}
	if opts.FallbackText == "" {
		opts.FallbackText = DefaultFallbackText
	}

	o := &Orchestrator{
		logger:      logger,
		log:         log,
		recognition: cfg.Recognition,
		capture:     cfg.Capture,
		playback:    cfg.Playback,
		responder:   cfg.Responder,
		lease:       cfg.Lease,
		metrics:     cfg.Metrics,
		opts:        opts,
		mailbox:     make(chan func()),
		done:        make(chan struct{}),
		state:       fsm.StateIdle,
	}
	o.snap = Status{State: fsm.StateIdle, RecognitionSupported: o.recognition.Supported()}
	return o
}

// Run processes commands and results until ctx is done. On return the
// recognizer is stopped, any recording is discarded and the re-arm timer is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	o.ctx = ctx
	defer o.shutdown()

	if !o.recognition.Supported() {
		o.markUnsupported()
	}
	if o.opts.StartContinuous && !o.unsupported {
		if err := o.setContinuous(true); err != nil {
			o.logger.Warn("unable to start in continuous mode", "error", err.Error())
		}
	}
	o.publish()

	events := o.recognition.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-o.mailbox:
			fn()
		case ev := <-events:
			o.onRecognition(ev)
		}
		o.publish()
	}
}

func (o *Orchestrator) shutdown() {
	o.cancelRearm()
	o.stopRecognition()
	o.capture.Cancel()
	close(o.done)
	o.publish()
	o.logger.Debug("orchestrator stopped", "state", string(o.state))
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

func (o *Orchestrator) Turns() []conversation.Turn {
	return o.log.Turns()
}

func (o *Orchestrator) publish() {
	snap := Status{
		State:                o.state,
		Continuous:           o.continuous,
		RecognitionSupported: !o.unsupported && o.recognition.Supported(),
		Recording:            o.capture.Recording(),
		RearmPending:         o.rearm != nil,
		Turns:                o.log.Len(),
	}
	if o.state == fsm.StateListening {
		snap.Pending = o.recognition.Pending()
	}

	o.mu.Lock()
	o.snap = snap
	o.mu.Unlock()
}

// do runs fn on the loop goroutine and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.mailbox <- func() {
		err := fn()
		o.publish()
		errc <- err
	}:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands an async result back to the loop. Results arriving after Run
// has returned are dropped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.mailbox <- fn:
	case <-o.done:
	}
}
