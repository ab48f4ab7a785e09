// Package scheduler runs crontab rules against the wall clock once a minute.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amariwan/cronexec/internal/cronfield"
	"github.com/amariwan/cronexec/internal/crontab"
	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/report"
	"github.com/amariwan/cronexec/internal/util"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Dispatcher executes a rule's command.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, command string) error

func (f DispatchFunc) Dispatch(ctx context.Context, command string) error {
	return f(ctx, command)
}

// Config holds scheduling parameters
type Config struct {
	CrontabPath string
	// Now defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// Scheduler owns the live rule set and the polling loop.
type Scheduler struct {
	config     Config
	dispatcher Dispatcher
	logger     util.Logger
	sanitizer  *util.Sanitizer
	every      cron.Schedule

	rules atomic.Pointer[models.RuleSet]

	// reloadMu orders reloads so the last file read is the one stored.
	reloadMu sync.Mutex
	load     func(path string, logger util.Logger) (crontab.LoadResult, error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// lastMinute is only touched by the loop goroutine.
	lastMinute time.Time
}

// New creates a scheduler and performs the initial load of the rule file.
func New(config Config, dispatcher Dispatcher, logger util.Logger) *Scheduler {
	if config.Now == nil {
		config.Now = time.Now
	}
	every, err := cron.ParseStandard("* * * * *")
	if err != nil {
		panic(fmt.Sprintf("minute schedule: %v", err))
	}
	s := &Scheduler{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
		sanitizer:  util.NewSanitizer(),
		every:      every,
		load:       crontab.Load,
		done:       make(chan struct{}),
	}
	empty := models.RuleSet{}
	s.rules.Store(&empty)
	s.Reload()
	return s
}

// Reload rereads the rule file and swaps in the new set. It never fails;
// load errors leave an empty set and are logged by the loader.
func (s *Scheduler) Reload() int {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	res, _ := s.load(s.config.CrontabPath, s.logger)
	rules := res.Rules
	s.rules.Store(&rules)
	s.logger.Info("Crontab reloaded", "tasks", len(rules), "rejected", res.Rejected, "path", s.config.CrontabPath)
	return len(rules)
}

// Rules returns the current snapshot. Callers must not modify it.
func (s *Scheduler) Rules() models.RuleSet {
	return *s.rules.Load()
}

// List renders the current rules one per line.
func (s *Scheduler) List() string {
	return report.FormatText(s.Rules())
}

// Matches reports whether all five fields of r match tf.
func Matches(r models.Rule, tf models.TimeFields) bool {
	exprs := r.Fields()
	values := tf.Values()
	for i := range exprs {
		if !cronfield.Match(exprs[i], values[i]) {
			return false
		}
	}
	return true
}

// Tick fires every rule matching now, in rule order, and returns how many
// fired. A failing or panicking dispatch does not stop later rules.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	tf := models.NewTimeFields(now)
	rules := s.Rules()
	fired := 0
	for _, r := range rules {
		if !Matches(r, tf) {
			continue
		}
		fired++
		s.execute(ctx, r)
	}
	s.logger.Debug("Tick evaluated", "time", now.Format("2006-01-02 15:04"), "rules", len(rules), "fired", fired)
	return fired
}

func (s *Scheduler) execute(ctx context.Context, r models.Rule) {
	command := s.sanitizer.Sanitize(r.Command)
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Dispatch panicked", "command", command, "line", r.Line, "panic", p)
		}
	}()

	s.logger.Info("Run command", "command", command, "line", r.Line)
	if err := s.dispatcher.Dispatch(ctx, r.Command); err != nil {
		s.logger.Error("Command failed", "command", command, "line", r.Line, "error", util.FormatError(err, "dispatch"))
	}
}

// Start launches the polling loop. The loop runs until ctx is cancelled or
// Stop is called. A scheduler can only be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.logger.Info("Starting scheduler", "path", s.config.CrontabPath, "tasks", len(s.Rules()))
	go s.run(loopCtx)
	return nil
}

// Stop signals the loop to exit. It does not wait; use Done for that.
// Stopping a scheduler that was never started makes it terminal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		return
	}
	if !s.started {
		s.started = true
		close(s.done)
	}
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer s.logger.Info("Scheduler stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		now := s.config.Now()
		minute := now.Truncate(time.Minute)
		if !minute.Equal(s.lastMinute) {
			s.lastMinute = minute
			s.Tick(ctx, now)
		}

		now = s.config.Now()
		timer := time.NewTimer(s.every.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
