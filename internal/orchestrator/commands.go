package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/ipc"
)

// SetContinuous turns hands-free mode on or off. Turning it off while a turn
// is in flight lets the turn finish but suppresses the next re-arm.
func (o *Orchestrator) SetContinuous(ctx context.Context, on bool) error {
	return o.do(ctx, func() error { return o.setContinuous(on) })
}

// ToggleContinuous flips hands-free mode and reports the new setting.
func (o *Orchestrator) ToggleContinuous(ctx context.Context) (bool, error) {
	var on bool
	err := o.do(ctx, func() error {
		if err := o.setContinuous(!o.continuous); err != nil {
			return err
		}
		on = o.continuous
		return nil
	})
	return on, err
}

// StartTalk begins a push-to-talk recording.
func (o *Orchestrator) StartTalk(ctx context.Context) error {
	return o.do(ctx, o.startTalk)
}

// StopTalk ends the recording and sends it for transcription.
func (o *Orchestrator) StopTalk(ctx context.Context) error {
	return o.do(ctx, o.stopTalk)
}

// ToggleTalk starts a recording, or stops the one in progress. It reports
// whether a recording is running afterward.
func (o *Orchestrator) ToggleTalk(ctx context.Context) (bool, error) {
	var recording bool
	err := o.do(ctx, func() error {
		if o.capture.Recording() {
			return o.stopTalk()
		}
		if err := o.startTalk(); err != nil {
			return err
		}
		recording = true
		return nil
	})
	return recording, err
}

// Submit starts a turn from typed text.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	return o.do(ctx, func() error { return o.submit(text) })
}

// Replay speaks an earlier assistant turn again.
func (o *Orchestrator) Replay(ctx context.Context, id string) error {
	return o.do(ctx, func() error { return o.replay(id) })
}

// Handle serves control socket commands.
func (o *Orchestrator) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return o.statusResponse("")
	case ipc.CommandListen:
		return o.handleListen(ctx, req)
	case ipc.CommandTalk:
		return o.handleTalk(ctx, req)
	case ipc.CommandSay:
		if err := o.Submit(ctx, req.Text()); err != nil {
			return o.failure(err)
		}
		return o.statusResponse("sent")
	case ipc.CommandReplay:
		if err := o.Replay(ctx, req.Arg(0)); err != nil {
			return o.failure(err)
		}
		return o.statusResponse("replaying")
	case ipc.CommandHistory:
		resp := o.statusResponse("")
		resp.Turns = turnRecords(o.Turns())
		return resp
	default:
		return o.failure(fmt.Errorf("unknown command: %s", req.Command))
	}
}

func (o *Orchestrator) handleListen(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	switch strings.ToLower(req.Arg(0)) {
	case "", "toggle":
		_, err = o.ToggleContinuous(ctx)
	case "on":
		err = o.SetContinuous(ctx, true)
	case "off":
		err = o.SetContinuous(ctx, false)
	default:
		err = fmt.Errorf("listen expects on, off or toggle, got %q", req.Arg(0))
	}
	if err != nil {
		return o.failure(err)
	}
	if o.Status().Continuous {
		return o.statusResponse("continuous mode on")
	}
	return o.statusResponse("continuous mode off")
}

func (o *Orchestrator) handleTalk(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	switch strings.ToLower(req.Arg(0)) {
	case "", "toggle":
		var recording bool
		recording, err = o.ToggleTalk(ctx)
		if err == nil && recording {
			return o.statusResponse("recording")
		}
	case "start":
		if err = o.StartTalk(ctx); err == nil {
			return o.statusResponse("recording")
		}
	case "stop":
		err = o.StopTalk(ctx)
	default:
		err = fmt.Errorf("talk expects start, stop or toggle, got %q", req.Arg(0))
	}
	if err != nil {
		return o.failure(err)
	}
	return o.statusResponse("transcribing")
}

func (o *Orchestrator) statusResponse(message string) ipc.Response {
	s := o.Status()
	return ipc.Response{
		OK:         true,
		State:      string(s.State),
		Continuous: s.Continuous,
		Recording:  s.Recording,
		Pending:    s.Pending,
		Message:    message,
	}
}

func (o *Orchestrator) failure(err error) ipc.Response {
	resp := ipc.Failure(err)
	resp.State = string(o.Status().State)
	return resp
}

func turnRecords(turns []conversation.Turn) []ipc.TurnRecord {
	out := make([]ipc.TurnRecord, 0, len(turns))
	for _, t := range turns {
		out = append(out, ipc.TurnRecord{
			ID:        t.ID,
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			CreatedAt: t.CreatedAt,
			Fallback:  t.Fallback,
		})
	}
	return out
}
