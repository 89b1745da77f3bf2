// Package recognition runs continuous speech recognition over the leased
// microphone, one utterance per session.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/audio"
)

var (
	ErrAlreadyActive    = errors.New("recognition already active")
	ErrUnsupported      = errors.New("speech recognition is not available")
	ErrRecognitionFault = errors.New("recognition fault")
)

// Result is one transcript update from a recognizer session. Final marks the
// end of an utterance.
type Result struct {
	Text  string
	Final bool
}

// Session is one open streaming recognition request.
type Session interface {
	SendAudio(chunk []byte) error
	// Results is closed when the session ends. Err then reports why, or nil
	// after Close.
	Results() <-chan Result
	Err() error
	Close() error
}

type Recognizer interface {
	Open(ctx context.Context) (Session, error)
}

// Lease is the microphone ownership the controller needs.
type Lease interface {
	Acquire(ctx context.Context, owner audio.Owner) (audio.Stream, error)
	Release(owner audio.Owner) error
}

type EventKind int

const (
	EventPartial EventKind = iota + 1
	EventFinal
	EventFault
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventFault:
		return "fault"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports progress of the session numbered Session.
type Event struct {
	Session uint64
	Kind    EventKind
	Text    string
	Err     error
}

type run struct {
	id       uint64
	parent   context.Context
	cancel   context.CancelFunc
	session  Session
	partials chan string
	pending  string
}

// Controller owns at most one recognition session at a time. A session ends
// on its own after one final transcript or fault.
type Controller struct {
	logger     *slog.Logger
	recognizer Recognizer
	lease      Lease
	events     chan Event

	mu     sync.Mutex
	seq    uint64
	active *run
}

// NewController returns a controller. A nil recognizer makes every Start fail
// with ErrUnsupported.
func NewController(logger *slog.Logger, recognizer Recognizer, lease Lease) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		logger:     logger,
		recognizer: recognizer,
		lease:      lease,
		events:     make(chan Event, 64),
	}
}

func (c *Controller) Supported() bool {
	return c.recognizer != nil
}

func (c *Controller) Events() <-chan Event {
	return c.events
}

// Start opens a session on the microphone and returns its number. Starting
// while a session runs returns that session's number and ErrAlreadyActive.
func (c *Controller) Start(ctx context.Context) (uint64, error) {
	if c.recognizer == nil {
		return 0, ErrUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return c.active.id, ErrAlreadyActive
	}

	stream, err := c.lease.Acquire(ctx, audio.OwnerRecognition)
	if err != nil {
		return 0, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	session, err := c.recognizer.Open(runCtx)
	if err != nil {
		cancel()
		_ = c.lease.Release(audio.OwnerRecognition)
		return 0, fmt.Errorf("%w: open session: %v", ErrRecognitionFault, err)
	}

	c.seq++
	r := &run{
		id:       c.seq,
		parent:   ctx,
		cancel:   cancel,
		session:  session,
		partials: make(chan string, 32),
	}
	c.active = r

	go c.pump(runCtx, r, stream)
	go c.collect(runCtx, r)

	c.logger.Debug("recognition started", "session", r.id)
	return r.id, nil
}

// Stop ends the running session and releases the microphone before
// returning. Stopping an idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return
	}
	c.teardownLocked(c.active)
	c.logger.Debug("recognition stopped")
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Pending returns the latest interim transcript of the running session.
func (c *Controller) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.pending
}

// Partials yields interim transcripts of the session running when it is
// called. The sequence ends with that session; call again after the next
// Start to follow the new one.
func (c *Controller) Partials() iter.Seq[string] {
	c.mu.Lock()
	var ch <-chan string
	if c.active != nil {
		ch = c.active.partials
	}
	c.mu.Unlock()

	return func(yield func(string) bool) {
		if ch == nil {
			return
		}
		for text := range ch {
			if !yield(text) {
				return
			}
		}
	}
}

func (c *Controller) pump(ctx context.Context, r *run, stream audio.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream.Chunks():
			if !ok {
				c.fault(r, errors.New("microphone stream closed"))
				return
			}
			if err := r.session.SendAudio(chunk); err != nil {
				c.fault(r, fmt.Errorf("send audio: %w", err))
				return
			}
		}
	}
}

func (c *Controller) collect(ctx context.Context, r *run) {
	results := r.session.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				err := r.session.Err()
				if err == nil {
					err = errors.New("recognizer ended the session without a final transcript")
				}
				c.fault(r, err)
				return
			}
			text := strings.TrimSpace(res.Text)
			if res.Final {
				c.finish(r, text)
				return
			}
			c.partial(r, text)
		}
	}
}

func (c *Controller) partial(r *run, text string) {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	r.pending = text
	select {
	case r.partials <- text:
	default:
	}
	c.mu.Unlock()

	select {
	case c.events <- Event{Session: r.id, Kind: EventPartial, Text: text}:
	default:
		c.logger.Debug("dropping partial transcript", "session", r.id)
	}
}

func (c *Controller) finish(r *run, text string) {
	if !c.detach(r) {
		return
	}
	c.logger.Debug("recognition finalized", "session", r.id, "chars", len(text))
	c.deliver(r, Event{Session: r.id, Kind: EventFinal, Text: text})
}

func (c *Controller) fault(r *run, cause error) {
	if !c.detach(r) {
		return
	}
	c.logger.Warn("recognition fault", "session", r.id, "error", cause.Error())
	c.deliver(r, Event{
		Session: r.id,
		Kind:    EventFault,
		Err:     fmt.Errorf("%w: %v", ErrRecognitionFault, cause),
	})
}

// detach tears r down if it is still the running session.
func (c *Controller) detach(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return false
	}
	c.teardownLocked(r)
	return true
}

func (c *Controller) teardownLocked(r *run) {
	c.active = nil
	r.cancel()
	close(r.partials)
	r.pending = ""
	if err := r.session.Close(); err != nil {
		c.logger.Debug("close recognition session", "session", r.id, "error", err.Error())
	}
	if err := c.lease.Release(audio.OwnerRecognition); err != nil {
		c.logger.Warn("release microphone", "error", err.Error())
	}
}

func (c *Controller) deliver(r *run, ev Event) {
	select {
	case c.events <- ev:
	case <-r.parent.Done():
	}
}
