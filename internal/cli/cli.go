package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandListen  Command = "listen"
	CommandTalk    Command = "talk"
	CommandSay     Command = "say"
	CommandReplay  Command = "replay"
	CommandHistory Command = "history"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// arity bounds the positional arguments accepted after a command; max < 0 means unbounded.
type arity struct {
	min, max int
	choices  []string
}

var commands = map[Command]arity{
	CommandRun:     {},
	CommandStatus:  {},
	CommandListen:  {max: 1, choices: []string{"on", "off", "toggle"}},
	CommandTalk:    {max: 1, choices: []string{"start", "stop", "toggle"}},
	CommandSay:     {min: 1, max: -1},
	CommandReplay:  {min: 1, max: 1},
	CommandHistory: {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Debug      bool
	ShowHelp   bool
}

// Remote reports whether the command is forwarded to a running daemon.
func (p Parsed) Remote() bool {
	switch p.Command {
	case CommandStatus, CommandListen, CommandTalk, CommandSay, CommandReplay, CommandHistory:
		return true
	default:
		return false
	}
}

// Parse reads global flags up to the first command word; everything after
// the command is positional.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--debug":
			parsed.Debug = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			rule, ok := commands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if err := rule.check(cmd, rest); err != nil {
				return Parsed{}, err
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if len(rest) > 0 {
				parsed.Args = append([]string(nil), rest...)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func (a arity) check(cmd Command, rest []string) error {
	if len(rest) < a.min {
		return fmt.Errorf("%s requires an argument", cmd)
	}
	if a.max >= 0 && len(rest) > a.max {
		return fmt.Errorf("unexpected arguments after command %q", cmd)
	}
	if len(a.choices) > 0 && len(rest) == 1 {
		for _, choice := range a.choices {
			if rest[0] == choice {
				return nil
			}
		}
		return fmt.Errorf("%s expects one of %s, got %q", cmd, strings.Join(a.choices, "|"), rest[0])
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--debug] <command> [args]

Daemon:
  run                       Start the voice loop and control socket

Control (forwarded to a running daemon):
  status                    Print state, mode, and pending results
  listen [on|off|toggle]    Switch continuous listening (default: toggle)
  talk [start|stop|toggle]  Push-to-talk capture (default: toggle)
  say TEXT...               Submit a typed turn
  replay ID                 Speak an assistant turn again
  history                   Print the conversation log

Local:
  devices                   List available input devices
  doctor                    Run configuration and environment checks
  version                   Print version information
  help                      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  --debug         Record debug-level events in the log file
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
