// Package dispatch executes rule commands on behalf of the scheduler.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/util"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher executes one command line.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string) error
}

// HistoryStore persists dispatch records.
type HistoryStore interface {
	Save(rec models.DispatchRecord) error
}

// Alerter is notified about failed dispatches.
type Alerter interface {
	Alert(ctx context.Context, rec models.DispatchRecord) error
}

// Shell runs commands through a local shell.
type Shell struct {
	Shell   string
	Timeout time.Duration
	logger  util.Logger
}

// NewShell creates a shell dispatcher. An empty shell means /bin/sh.
func NewShell(shell string, timeout time.Duration, logger util.Logger) *Shell {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Shell{Shell: shell, Timeout: timeout, logger: logger}
}

func (s *Shell) Dispatch(ctx context.Context, command string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Shell, "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Background children may hold the output pipe after the shell is killed.
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	if out.Len() > 0 {
		s.logger.Debug("Command output", "output", strings.TrimSpace(out.String()))
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("command timed out after %s: %w", s.Timeout, err)
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// Log only records the command; used for dry runs.
type Log struct {
	logger util.Logger
}

func NewLog(logger util.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Dispatch(ctx context.Context, command string) error {
	l.logger.Info("Dry run, command not executed", "command", util.NewSanitizer().Sanitize(command))
	return nil
}

// Limited throttles an inner dispatcher.
type Limited struct {
	next    Dispatcher
	limiter *rate.Limiter
}

// NewLimited allows perMinute dispatches per minute with a burst of the
// same size. perMinute <= 0 disables limiting.
func NewLimited(next Dispatcher, perMinute int) Dispatcher {
	if perMinute <= 0 {
		return next
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return &Limited{next: next, limiter: limiter}
}

func (l *Limited) Dispatch(ctx context.Context, command string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Dispatch(ctx, command)
}

// Recorded stamps every dispatch with a run ID, stores the outcome and
// raises an alert on failure. Store and alert errors are logged only.
// Recorded commands are sanitized.
type Recorded struct {
	next    Dispatcher
	store   HistoryStore
	alerter Alerter
	logger  util.Logger
	now     func() time.Time

	sanitizer *util.Sanitizer
}

// NewRecorded wraps next. store and alerter may be nil.
func NewRecorded(next Dispatcher, store HistoryStore, alerter Alerter, logger util.Logger) *Recorded {
	return &Recorded{
		next:      next,
		store:     store,
		alerter:   alerter,
		logger:    logger,
		now:       time.Now,
		sanitizer: util.NewSanitizer(),
	}
}

func (r *Recorded) Dispatch(ctx context.Context, command string) error {
	rec := models.DispatchRecord{
		RunID:     uuid.New().String(),
		Command:   r.sanitizer.Sanitize(command),
		StartTime: r.now(),
	}
	err := r.next.Dispatch(ctx, command)
	rec.Duration = r.now().Sub(rec.StartTime)
	if err != nil {
		rec.Error = err.Error()
	}

	r.logger.Debug("Dispatch finished", "run_id", rec.RunID, "duration", rec.Duration, "failed", rec.Failed())

	if r.store != nil {
		if serr := r.store.Save(rec); serr != nil {
			r.logger.Warn("Failed to save dispatch record", "run_id", rec.RunID, "error", serr)
		}
	}
	if err != nil && r.alerter != nil {
		if aerr := r.alerter.Alert(ctx, rec); aerr != nil {
			r.logger.Warn("Failed to send alert", "run_id", rec.RunID, "error", aerr)
		}
	}
	return err
}
