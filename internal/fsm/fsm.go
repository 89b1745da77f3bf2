// Package fsm defines the voice states of a conversation and the events that
// move between them.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle          State = "idle"
	StateListening     State = "listening"
	StateTranscribing  State = "transcribing"
	StateAwaitingReply State = "awaiting_reply"
	StateSpeaking      State = "speaking"
	StateErrorRecovery State = "error_recovery"
)

const (
	// EventListen arms continuous recognition.
	EventListen Event = "listen"
	// EventRecord starts a push-to-talk recording.
	EventRecord Event = "record"
	// EventUtterance carries a final transcript from the live recognizer.
	EventUtterance Event = "utterance"
	// EventCaptured hands a finished push-to-talk recording to transcription.
	EventCaptured    Event = "captured"
	EventTranscribed Event = "transcribed"
	// EventSubmit starts a turn from typed text.
	EventSubmit Event = "submit"
	EventSpeak  Event = "speak"
	EventFail   Event = "fail"
	EventSettle Event = "settle"
)

// States lists every valid state in declaration order.
func States() []State {
	return []State{
		StateIdle,
		StateListening,
		StateTranscribing,
		StateAwaitingReply,
		StateSpeaking,
		StateErrorRecovery,
	}
}

// Busy reports whether an audio or turn operation is in flight.
func (s State) Busy() bool {
	switch s {
	case StateListening, StateTranscribing, StateAwaitingReply, StateSpeaking:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		if !known(current) {
			return current, fmt.Errorf("unknown state %q", current)
		}
		return StateErrorRecovery, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventListen, EventRecord:
			return StateListening, nil
		case EventSubmit:
			return StateAwaitingReply, nil
		case EventSpeak:
			return StateSpeaking, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventUtterance, EventSubmit:
			return StateAwaitingReply, nil
		case EventCaptured:
			return StateTranscribing, nil
		case EventSettle:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateTranscribing:
		switch event {
		case EventTranscribed:
			return StateAwaitingReply, nil
		case EventSettle:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingReply:
		switch event {
		case EventSubmit:
			return StateAwaitingReply, nil
		case EventSpeak:
			return StateSpeaking, nil
		case EventSettle:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSpeaking:
		switch event {
		case EventSettle:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateErrorRecovery:
		switch event {
		case EventListen:
			return StateListening, nil
		case EventSubmit:
			return StateAwaitingReply, nil
		case EventSpeak:
			return StateSpeaking, nil
		case EventSettle:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func known(state State) bool {
	for _, s := range States() {
		if s == state {
			return true
		}
	}
	return false
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
