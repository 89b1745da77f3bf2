package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/capture"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/recognition"
	"github.com/rbright/parley/internal/voice"
)

// Everything in this file runs on the loop goroutine.

func (o *Orchestrator) transition(event fsm.Event) error {
	next, err := fsm.Transition(o.state, event)
	if err != nil {
		return err
	}
	if next == fsm.StateSpeaking && o.lease != nil {
		if holder := o.lease.Holder(); holder != audio.OwnerNone {
			return fmt.Errorf("%w: %s", audio.ErrLeaseHeld, holder)
		}
	}

	prev := o.state
	o.state = next
	o.metrics.ObserveTransition(string(prev), string(next))
	o.logger.Debug("voice state", "from", string(prev), "to", string(next), "event", string(event))
	return nil
}

func (o *Orchestrator) settle() {
	if o.state == fsm.StateIdle {
		return
	}
	if err := o.transition(fsm.EventSettle); err != nil {
		o.logger.Error("settle failed", "state", string(o.state), "error", err.Error())
	}
}

func (o *Orchestrator) markUnsupported() {
	o.continuous = false
	if o.unsupported {
		return
	}
	o.unsupported = true
	o.logger.Warn("speech recognition unavailable; continuous mode disabled")
}

func (o *Orchestrator) setContinuous(on bool) error {
	if !on {
		o.continuous = false
		o.cancelRearm()
		switch o.state {
		case fsm.StateListening:
			if o.capture.Recording() {
				return nil
			}
			o.stopRecognition()
			o.settle()
		case fsm.StateErrorRecovery:
			o.settle()
		}
		return nil
	}

	if o.continuous {
		return nil
	}
	if o.unsupported || !o.recognition.Supported() {
		o.markUnsupported()
		return recognition.ErrUnsupported
	}
	if o.state == fsm.StateSpeaking || o.capture.Recording() {
		return ErrBusy
	}

	o.continuous = true
	o.faults = 0
	if o.state == fsm.StateIdle || o.state == fsm.StateErrorRecovery {
		o.cancelRearm()
		return o.listen()
	}
	return nil
}

// listen arms the recognizer when continuous mode allows it.
func (o *Orchestrator) listen() error {
	if !o.continuous {
		return nil
	}
	if o.state != fsm.StateIdle && o.state != fsm.StateErrorRecovery {
		return nil
	}

	id, err := o.recognition.Start(o.ctx)
	switch {
	case err == nil, errors.Is(err, recognition.ErrAlreadyActive):
		o.session = id
		return o.transition(fsm.EventListen)
	case errors.Is(err, recognition.ErrUnsupported):
		o.markUnsupported()
		o.settle()
		return err
	case errors.Is(err, audio.ErrPermissionDenied):
		o.logger.Warn("microphone unavailable; continuous mode off", "error", err.Error())
		o.continuous = false
		o.settle()
		return err
	default:
		o.recognitionFault(err)
		return nil
	}
}

func (o *Orchestrator) recognitionFault(err error) {
	o.faults++
	o.metrics.ObserveRecognitionFault()
	o.logger.Warn("recognition fault", "attempt", o.faults, "error", err.Error())

	if ferr := o.transition(fsm.EventFail); ferr != nil {
		o.logger.Error("enter error recovery", "error", ferr.Error())
	}
	if !o.continuous {
		o.settle()
		return
	}
	if o.faults >= o.opts.MaxRecognitionRetries {
		o.logger.Warn("recognition kept failing; continuous mode off", "faults", o.faults)
		o.continuous = false
		o.settle()
		return
	}
	o.scheduleRearm()
}

// stopRecognition ends the current session. Events still queued from it no
// longer match o.session and are dropped as stale.
func (o *Orchestrator) stopRecognition() {
	o.recognition.Stop()
	o.session = 0
}

func (o *Orchestrator) onRecognition(ev recognition.Event) {
	if ev.Session != o.session || o.state != fsm.StateListening || o.capture.Recording() {
		if ev.Kind != recognition.EventPartial {
			o.metrics.ObserveStale()
			o.logger.Debug("dropping stale recognition event", "session", ev.Session, "kind", ev.Kind.String())
		}
		return
	}

	switch ev.Kind {
	case recognition.EventPartial:
	case recognition.EventFinal:
		o.faults = 0
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			o.settle()
			_ = o.listen()
			return
		}
		if err := o.beginTurn(fsm.EventUtterance, text); err != nil {
			o.logger.Error("start turn from utterance", "error", err.Error())
		}
	case recognition.EventFault:
		o.recognitionFault(ev.Err)
	}
}

// beginTurn records a user turn and asks the Responder for a reply.
func (o *Orchestrator) beginTurn(event fsm.Event, text string) error {
	if err := o.transition(event); err != nil {
		return err
	}
	if _, err := o.log.Append(conversation.RoleUser, text); err != nil {
		o.settle()
		return err
	}
	o.metrics.ObserveTurn(string(conversation.RoleUser), false)

	o.turn++
	gen := o.turn
	messages := conversation.Messages(o.opts.SystemPrompt, o.log.Turns())
	ctx := o.ctx

	go func() {
		started := time.Now()
		reply, err := o.responder.Complete(ctx, messages)
		o.metrics.ObserveCall("responder", time.Since(started), err)
		o.post(func() { o.onReply(gen, reply, err) })
	}()
	return nil
}

func (o *Orchestrator) onReply(gen uint64, reply string, err error) {
	if gen != o.turn || o.state != fsm.StateAwaitingReply {
		o.metrics.ObserveStale()
		o.logger.Debug("dropping stale reply", "turn", gen, "current", o.turn)
		return
	}

	reply = strings.TrimSpace(reply)
	if err == nil && reply == "" {
		err = &voice.ResponderError{Err: errors.New("empty reply")}
	}
	if err != nil {
		var responderErr *voice.ResponderError
		if !errors.As(err, &responderErr) {
			err = &voice.ResponderError{Err: err}
		}
		o.turnFailed(err)
		return
	}

	if _, err := o.log.Append(conversation.RoleAssistant, reply); err != nil {
		o.turnFailed(err)
		return
	}
	o.metrics.ObserveTurn(string(conversation.RoleAssistant), false)

	if o.continuous {
		o.speak(reply)
		return
	}
	o.settle()
}

// turnFailed records the fallback reply for a failed transcription or
// completion and speaks it in continuous mode.
func (o *Orchestrator) turnFailed(err error) {
	o.logger.Error("turn failed", "state", string(o.state), "error", err.Error())
	if ferr := o.transition(fsm.EventFail); ferr != nil {
		o.logger.Error("enter error recovery", "error", ferr.Error())
	}

	if _, aerr := o.log.AppendFallback(o.opts.FallbackText); aerr != nil {
		o.logger.Error("append fallback turn", "error", aerr.Error())
	}
	o.metrics.ObserveTurn(string(conversation.RoleAssistant), true)

	if o.continuous {
		o.speak(o.opts.FallbackText)
		return
	}
	o.settle()
}

// speak silences the microphone and plays text. The loop hears back through
// onSpoken once playback has ended.
func (o *Orchestrator) speak(text string) {
	o.cancelRearm()
	o.stopRecognition()
	o.capture.Cancel()

	if err := o.transition(fsm.EventSpeak); err != nil {
		o.logger.Error("unable to speak", "state", string(o.state), "error", err.Error())
		o.settle()
		if o.continuous {
			o.scheduleRearm()
		}
		return
	}

	ctx := o.ctx
	go func() {
		started := time.Now()
		err := o.playback.Speak(ctx, text)
		o.metrics.ObserveCall("speaker", time.Since(started), err)
		o.post(func() { o.onSpoken(err) })
	}()
}

func (o *Orchestrator) onSpoken(err error) {
	if o.state != fsm.StateSpeaking {
		return
	}
	if err != nil {
		o.logger.Warn("speech playback failed", "error", err.Error())
	}
	o.settle()
	if o.continuous {
		o.scheduleRearm()
	}
}

func (o *Orchestrator) startTalk() error {
	if o.continuous {
		return ErrContinuousActive
	}
	if o.capture.Recording() {
		return nil
	}
	if o.state != fsm.StateIdle {
		return ErrBusy
	}

	o.cancelRearm()
	if err := o.capture.StartRecording(o.ctx); err != nil {
		return err
	}
	return o.transition(fsm.EventRecord)
}

func (o *Orchestrator) stopTalk() error {
	if !o.capture.Recording() {
		return nil
	}
	if err := o.transition(fsm.EventCaptured); err != nil {
		return err
	}

	o.turn++
	gen := o.turn
	ctx := o.ctx
	go func() {
		started := time.Now()
		result, err := o.capture.StopRecording(ctx)
		if !errors.Is(err, capture.ErrNoAudio) {
			o.metrics.ObserveCall("transcriber", time.Since(started), err)
		}
		o.post(func() { o.onTranscribed(gen, result, err) })
	}()
	return nil
}

func (o *Orchestrator) onTranscribed(gen uint64, result capture.Result, err error) {
	if gen != o.turn || o.state != fsm.StateTranscribing {
		o.metrics.ObserveStale()
		o.logger.Debug("dropping stale transcript", "turn", gen, "current", o.turn)
		return
	}

	switch {
	case errors.Is(err, capture.ErrNoAudio):
		o.logger.Info("nothing recorded")
		o.settle()
	case err != nil:
		o.turnFailed(err)
	case result.Transcript == "":
		o.logger.Info("no speech detected", "bytes", result.BytesCaptured)
		o.settle()
	default:
		o.logger.Debug("transcribed recording",
			"bytes", result.BytesCaptured,
			"duration_ms", result.Duration.Milliseconds(),
		)
		if err := o.beginTurn(fsm.EventTranscribed, result.Transcript); err != nil {
			o.logger.Error("start turn from recording", "error", err.Error())
			o.settle()
		}
	}
}

func (o *Orchestrator) submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.ErrEmptyText
	}
	if o.capture.Recording() {
		return ErrBusy
	}
	switch o.state {
	case fsm.StateTranscribing, fsm.StateSpeaking:
		return ErrBusy
	case fsm.StateListening:
		o.stopRecognition()
	}

	o.cancelRearm()
	return o.beginTurn(fsm.EventSubmit, text)
}

func (o *Orchestrator) replay(id string) error {
	turn, ok := o.log.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, id)
	}
	if turn.Speaker != conversation.RoleAssistant {
		return ErrNotAssistantTurn
	}
	if o.state != fsm.StateIdle {
		return ErrBusy
	}
	o.speak(turn.Text)
	if o.state != fsm.StateSpeaking {
		return ErrBusy
	}
	return nil
}

func (o *Orchestrator) scheduleRearm() {
	o.cancelRearm()
	gen := o.rearmGen
	o.rearm = time.AfterFunc(o.opts.RearmGrace, func() {
		o.post(func() { o.onRearm(gen) })
	})
}

// cancelRearm stops a pending grace timer; a callback already in flight sees
// a newer generation and does nothing.
func (o *Orchestrator) cancelRearm() {
	o.rearmGen++
	if o.rearm != nil {
		o.rearm.Stop()
		o.rearm = nil
	}
}

func (o *Orchestrator) onRearm(gen uint64) {
	if gen != o.rearmGen {
		return
	}
	o.rearm = nil
	if err := o.listen(); err != nil {
		o.logger.Warn("re-arm failed", "error", err.Error())
	}
}
