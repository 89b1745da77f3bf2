// Package deepgram implements live speech recognition on the Deepgram
// streaming listen API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rbright/parley/internal/recognition"
	"github.com/rbright/parley/internal/transcript"
)

const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

var tracer = otel.Tracer("github.com/rbright/parley/internal/provider/deepgram")

type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	Language       string
	SampleRate     int
	EndpointingMS  int
	UtteranceEndMS int
	KeepAlive      time.Duration
	Keywords       []Keyword
	// SentenceCase tidies capitalization of finalized utterances.
	SentenceCase bool
	Dialer       *websocket.Dialer
}

// Keyword is a term the recognizer should favor, with an intensifier
// between -10 and 10. A zero boost sends the bare term.
type Keyword struct {
	Term  string
	Boost float64
}

type Recognizer struct {
	cfg    Config
	logger *slog.Logger
}

func NewRecognizer(cfg Config, logger *slog.Logger) *Recognizer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recognizer{cfg: cfg, logger: logger}
}

func (r *Recognizer) listenURL() (string, error) {
	u, err := url.Parse(r.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	if r.cfg.Model != "" {
		q.Set("model", r.cfg.Model)
	}
	if r.cfg.Language != "" {
		q.Set("language", r.cfg.Language)
	}
	if r.cfg.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(r.cfg.EndpointingMS))
	}
	if r.cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(r.cfg.UtteranceEndMS))
	}
	for _, kw := range r.cfg.Keywords {
		if kw.Boost == 0 {
			q.Add("keywords", kw.Term)
			continue
		}
		q.Add("keywords", kw.Term+":"+strconv.FormatFloat(kw.Boost, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials a new streaming session.
func (r *Recognizer) Open(ctx context.Context) (recognition.Session, error) {
	ctx, span := tracer.Start(ctx, "deepgram.listen")
	defer span.End()
	span.SetAttributes(attribute.String("deepgram.model", r.cfg.Model))

	target, err := r.listenURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{"Authorization": {"Token " + r.cfg.APIKey}}
	conn, resp, err := r.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, fmt.Errorf("open deepgram socket: %w", err)
	}

	s := &session{
		conn:    conn,
		logger:  r.logger,
		results: make(chan recognition.Result, 16),
		done:    make(chan struct{}),
		tidy:    transcript.Options{SentenceCase: r.cfg.SentenceCase},
	}
	go s.readLoop()
	go s.keepAlive(r.cfg.KeepAlive)
	return s, nil
}

type control struct {
	Type string `json:"type"`
}

type session struct {
	conn   *websocket.Conn
	logger *slog.Logger
	tidy   transcript.Options

	writeMu sync.Mutex
	results chan recognition.Result
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool

	errMu sync.Mutex
	err   error

	// Owned by readLoop.
	segments []string
	interim  string
}

func (s *session) Results() <-chan recognition.Result {
	return s.results
}

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) SendAudio(chunk []byte) error {
	if s.closed.Load() {
		return errors.New("deepgram session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

// Close asks Deepgram to flush the stream and drops the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteJSON(control{Type: string(api.TypeCloseStreamResponse)})
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *session) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteJSON(control{Type: "KeepAlive"})
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) readLoop() {
	defer close(s.results)
	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		for _, res := range s.handle(payload) {
			select {
			case s.results <- res:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) handle(payload []byte) []recognition.Result {
	var envelope control
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Debug("unreadable deepgram message", "error", err.Error())
		return nil
	}

	switch api.TypeResponse(envelope.Type) {
	case api.TypeMessageResponse:
		var msg api.MessageResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug("unreadable deepgram result", "error", err.Error())
			return nil
		}
		var transcript string
		if len(msg.Channel.Alternatives) > 0 {
			transcript = msg.Channel.Alternatives[0].Transcript
		}

		if !msg.IsFinal {
			s.interim = cleanSegment(transcript)
			return s.partial()
		}
		s.segments = appendSegment(s.segments, transcript)
		s.interim = ""
		if msg.SpeechFinal {
			return s.finalize()
		}
		return s.partial()
	case api.TypeUtteranceEndResponse:
		return s.finalize()
	default:
		return nil
	}
}

func (s *session) partial() []recognition.Result {
	text := joinSegments(s.segments, s.interim)
	if text == "" {
		return nil
	}
	return []recognition.Result{{Text: text}}
}

func (s *session) finalize() []recognition.Result {
	text := transcript.Assemble(appendSegment(s.segments, s.interim), s.tidy)
	s.segments = nil
	s.interim = ""
	if text == "" {
		return nil
	}
	return []recognition.Result{{Text: text, Final: true}}
}
