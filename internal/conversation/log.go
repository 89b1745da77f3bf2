// Package conversation holds the append-only turn log of a voice conversation.
package conversation

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrEmptyText      = errors.New("turn text is empty")
	ErrInvalidSpeaker = errors.New("turn speaker must be user or assistant")
)

// Turn is one utterance or reply. Turns are never modified after Append.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Role      `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	// Fallback marks an assistant turn produced by the error path.
	Fallback bool `json:"fallback,omitempty"`
}

// Message is a role/content pair as sent to a Responder.
type Message struct {
	Role    Role
	Content string
}

type Log struct {
	mu    sync.RWMutex
	turns []Turn

	now   func() time.Time
	newID func() string
}

func NewLog() *Log {
	return &Log{now: time.Now, newID: uuid.NewString}
}

func (l *Log) Append(speaker Role, text string) (Turn, error) {
	return l.append(speaker, text, false)
}

// AppendFallback records an assistant turn standing in for a failed reply.
func (l *Log) AppendFallback(text string) (Turn, error) {
	return l.append(RoleAssistant, text, true)
}

func (l *Log) append(speaker Role, text string, fallback bool) (Turn, error) {
	if speaker != RoleUser && speaker != RoleAssistant {
		return Turn{}, ErrInvalidSpeaker
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyText
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	turn := Turn{
		ID:        l.newID(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: l.now(),
		Fallback:  fallback,
	}
	l.turns = append(l.turns, turn)
	return turn, nil
}

// Turns returns a copy of the log in creation order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.turns)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

func (l *Log) Find(id string) (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, turn := range l.turns {
		if turn.ID == id {
			return turn, true
		}
	}
	return Turn{}, false
}

// Messages builds the Responder context: the system prompt (when set)
// followed by every turn in order.
func Messages(systemPrompt string, turns []Turn) []Message {
	messages := make([]Message, 0, len(turns)+1)
	if prompt := strings.TrimSpace(systemPrompt); prompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: prompt})
	}
	for _, turn := range turns {
		messages = append(messages, Message{Role: turn.Speaker, Content: turn.Text})
	}
	return messages
}
