package dispatch

import (
	"fmt"
	"time"

	"github.com/amariwan/cronexec/internal/util"
)

// Dispatcher modes accepted by New.
const (
	ModeShell = "shell"
	ModeSSH   = "ssh"
	ModeLog   = "log"
)

// Options configure the dispatcher chain built by New
type Options struct {
	Mode      string
	Shell     string
	Timeout   time.Duration
	PerMinute int
	SSH       SSHConfig

	History HistoryStore
	Alerter Alerter
}

// New builds base dispatcher -> rate limit -> recording.
func New(opts Options, logger util.Logger) (Dispatcher, error) {
	var base Dispatcher
	switch opts.Mode {
	case "", ModeShell:
		base = NewShell(opts.Shell, opts.Timeout, logger)
	case ModeSSH:
		sshCfg := opts.SSH
		if sshCfg.Timeout == 0 {
			sshCfg.Timeout = opts.Timeout
		}
		d, err := NewSSH(sshCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init ssh dispatcher: %w", err)
		}
		base = d
	case ModeLog:
		base = NewLog(logger)
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q (shell|ssh|log)", opts.Mode)
	}

	limited := NewLimited(base, opts.PerMinute)
	return NewRecorded(limited, opts.History, opts.Alerter, logger), nil
}
