package ipc

import (
	"strings"
	"time"
)

// Commands understood by a running parley instance.
const (
	CommandStatus  = "status"
	CommandListen  = "listen"
	CommandTalk    = "talk"
	CommandSay     = "say"
	CommandReplay  = "replay"
	CommandHistory = "history"
)

// Request is one line-delimited command sent over the control socket.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Arg returns the i-th argument or "" when absent.
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Text joins all arguments with single spaces.
func (r Request) Text() string {
	return strings.TrimSpace(strings.Join(r.Args, " "))
}

type Response struct {
	OK         bool         `json:"ok"`
	State      string       `json:"state,omitempty"`
	Continuous bool         `json:"continuous,omitempty"`
	Recording  bool         `json:"recording,omitempty"`
	Pending    string       `json:"pending,omitempty"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
	Turns      []TurnRecord `json:"turns,omitempty"`
}

// TurnRecord is the wire form of one conversation turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// Failure builds a non-OK response carrying err's message.
func Failure(err error) Response {
	if err == nil {
		return Response{OK: false, Error: "unknown error"}
	}
	return Response{OK: false, Error: err.Error()}
}
