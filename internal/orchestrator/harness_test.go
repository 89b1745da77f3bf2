package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/capture"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/recognition"
	"github.com/rbright/parley/internal/voice"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	grace   = 30 * time.Millisecond
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

// fakeMicrophone hands out a fresh stream per open, preloaded with one
// 100ms chunk of silence unless silent is set.
type fakeMicrophone struct {
	openErr error
	silent  bool
	opens   atomic.Int32
}

func (m *fakeMicrophone) Open(context.Context) (audio.Stream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens.Add(1)
	s := &fakeStream{chunks: make(chan []byte, 1)}
	if !m.silent {
		s.chunks <- make([]byte, 3200)
	}
	return s, nil
}

type fakeSession struct {
	results chan recognition.Result
	err     error
	once    sync.Once
}

func (s *fakeSession) SendAudio([]byte) error             { return nil }
func (s *fakeSession) Results() <-chan recognition.Result { return s.results }
func (s *fakeSession) Err() error                         { return s.err }
func (s *fakeSession) Close() error                       { return nil }

func (s *fakeSession) partial(text string) {
	s.results <- recognition.Result{Text: text}
}

func (s *fakeSession) final(text string) {
	s.results <- recognition.Result{Text: text, Final: true}
}

func (s *fakeSession) fail(err error) {
	s.err = err
	s.once.Do(func() { close(s.results) })
}

type openRecord struct {
	session *fakeSession
	at      time.Time
}

type fakeRecognizer struct {
	openErr  error
	attempts atomic.Int32
	opened   chan openRecord
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{opened: make(chan openRecord, 32)}
}

func (r *fakeRecognizer) Open(context.Context) (recognition.Session, error) {
	r.attempts.Add(1)
	if r.openErr != nil {
		return nil, r.openErr
	}
	s := &fakeSession{results: make(chan recognition.Result, 8)}
	r.opened <- openRecord{session: s, at: time.Now()}
	return s, nil
}

type fakeResponder struct {
	mu    sync.Mutex
	calls [][]conversation.Message
	reply func(ctx context.Context, messages []conversation.Message) (string, error)
}

func (r *fakeResponder) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, messages)
	reply := r.reply
	r.mu.Unlock()
	if reply == nil {
		return "ok", nil
	}
	return reply(ctx, messages)
}

func (r *fakeResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeResponder) call(i int) []conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

type spoken struct {
	text   string
	holder audio.Owner
	ended  time.Time
}

// fakePlayback records what was spoken and who held the microphone at the
// moment playback was requested.
type fakePlayback struct {
	lease *audio.Lease
	gate  chan struct{}
	err   error

	mu   sync.Mutex
	done []spoken
	busy atomic.Bool
}

func (p *fakePlayback) Speak(ctx context.Context, text string) error {
	holder := p.lease.Holder()
	if !p.busy.CompareAndSwap(false, true) {
		return errors.New("overlapping speak")
	}
	defer p.busy.Store(false)

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.done = append(p.done, spoken{text: text, holder: holder, ended: time.Now()})
	p.mu.Unlock()
	return p.err
}

func (p *fakePlayback) spoken() []spoken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]spoken(nil), p.done...)
}

type harness struct {
	t          *testing.T
	o          *Orchestrator
	lease      *audio.Lease
	mic        *fakeMicrophone
	recognizer *fakeRecognizer
	responder  *fakeResponder
	playback   *fakePlayback
	transcript string
	transcribe func(ctx context.Context, wav []byte) (string, error)
	log        *conversation.Log
}

type harnessOption func(*harness, *Config)

func withoutRecognizer() harnessOption {
	return func(h *harness, _ *Config) { h.recognizer = nil }
}

func withTranscriber(fn func(ctx context.Context, wav []byte) (string, error)) harnessOption {
	return func(h *harness, _ *Config) { h.transcribe = fn }
}

func withOptions(opts Options) harnessOption {
	return func(_ *harness, cfg *Config) { cfg.Options = opts }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		mic:        &fakeMicrophone{},
		recognizer: newFakeRecognizer(),
		responder:  &fakeResponder{},
		transcript: "typed by voice",
		log:        conversation.NewLog(),
	}
	h.lease = audio.NewLease(nil, h.mic)
	h.playback = &fakePlayback{lease: h.lease}

	cfg := Config{
		Log:       h.log,
		Responder: h.responder,
		Playback:  h.playback,
		Lease:     h.lease,
		Options:   Options{RearmGrace: grace, MaxRecognitionRetries: 3},
	}
	for _, opt := range options {
		opt(h, &cfg)
	}

	var recognizer recognition.Recognizer
	if h.recognizer != nil {
		recognizer = h.recognizer
	}
	cfg.Recognition = recognition.NewController(nil, recognizer, h.lease)
	transcribe := h.transcribe
	if transcribe == nil {
		transcribe = func(context.Context, []byte) (string, error) { return h.transcript, nil }
	}
	cfg.Capture = capture.NewController(nil, h.lease, voice.TranscriberFunc(transcribe), capture.Options{})

	h.o = New(cfg)
	return h
}

func (h *harness) start() {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.o.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		require.NoError(h.t, <-errc)
	})
}

func (h *harness) nextSession() openRecord {
	h.t.Helper()
	select {
	case rec := <-h.recognizer.opened:
		return rec
	case <-time.After(waitFor):
		h.t.Fatal("recognizer was not opened")
		return openRecord{}
	}
}

func (h *harness) noSession(within time.Duration) {
	h.t.Helper()
	select {
	case <-h.recognizer.opened:
		h.t.Fatal("recognizer opened unexpectedly")
	case <-time.After(within):
	}
}

func (h *harness) waitState(state fsm.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.o.Status().State == state }, waitFor, tick,
		"state stayed %s, want %s", h.o.Status().State, state)
}

func (h *harness) waitSpoken(n int) []spoken {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.playback.spoken()) >= n }, waitFor, tick)
	return h.playback.spoken()
}

func (h *harness) enableContinuous() openRecord {
	h.t.Helper()
	require.NoError(h.t, h.o.SetContinuous(context.Background(), true))
	rec := h.nextSession()
	h.waitState(fsm.StateListening)
	return rec
}
