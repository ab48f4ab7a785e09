package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amariwan/cronexec/internal/control"
	"github.com/amariwan/cronexec/internal/dispatch"
	"github.com/amariwan/cronexec/internal/notify"
	"github.com/amariwan/cronexec/internal/scheduler"
	"github.com/amariwan/cronexec/internal/storage"
	"github.com/amariwan/cronexec/internal/watch"
	"github.com/spf13/cobra"
)

var (
	// run flags
	crontabPath  string
	dispatchMode string
	controlAddr  string
	controlToken string
	watchFile    bool
	dryRun       bool
	perMinute    int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler in the foreground",
		Long: `Run loads the crontab, evaluates it at every minute boundary and
dispatches matching commands. SIGHUP reloads the crontab; SIGINT and
SIGTERM stop the daemon.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}

	cmd.Flags().StringVar(&crontabPath, "crontab", "", "Crontab file (default from config: config/crontab.txt)")
	cmd.Flags().StringVar(&dispatchMode, "dispatch", "", "Dispatcher (shell|ssh|log)")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "", "Control server address, empty in config disables it")
	cmd.Flags().StringVar(&controlToken, "control-token", "", "Bearer token required by the control server")
	cmd.Flags().BoolVar(&watchFile, "watch", false, "Reload automatically when the crontab changes")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log matching commands without executing them")
	cmd.Flags().IntVar(&perMinute, "rate-limit", 0, "Max dispatches per minute (0 = unlimited)")
	return cmd
}

// applyRunFlags lets explicit flags win over the config file.
func applyRunFlags(cmd *cobra.Command, c *storage.Config) {
	flags := cmd.Flags()
	if flags.Changed("crontab") {
		c.Crontab = crontabPath
	}
	if flags.Changed("dispatch") {
		c.Dispatch.Mode = dispatchMode
	}
	if flags.Changed("control-addr") {
		c.Control.Addr = controlAddr
	}
	if flags.Changed("control-token") {
		c.Control.Token = controlToken
	}
	if flags.Changed("watch") {
		c.Watch = watchFile
	}
	if flags.Changed("rate-limit") {
		c.Dispatch.PerMinute = perMinute
	}
	if dryRun {
		c.Dispatch.Mode = dispatch.ModeLog
	}
}

func dispatchOptions(c *storage.Config) dispatch.Options {
	return dispatch.Options{
		Mode:      c.Dispatch.Mode,
		Shell:     c.Dispatch.Shell,
		Timeout:   c.Dispatch.Timeout,
		PerMinute: c.Dispatch.PerMinute,
		SSH: dispatch.SSHConfig{
			Host:           c.Dispatch.SSH.Host,
			Port:           c.Dispatch.SSH.Port,
			User:           c.Dispatch.SSH.User,
			KeyFile:        c.Dispatch.SSH.KeyFile,
			KnownHostsFile: c.Dispatch.SSH.KnownHosts,
			Insecure:       c.Dispatch.SSH.Insecure,
		},
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return &usageError{msg: err.Error()}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting cronexec", "version", version, "crontab", cfg.Crontab, "dispatch", cfg.Dispatch.Mode)

	opts := dispatchOptions(cfg)
	if cfg.History.Path != "" {
		store, err := storage.NewHistoryStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		opts.History = store
	}
	if cfg.Alerts.SlackWebhook != "" {
		opts.Alerter = notify.NewSlackAlerter(cfg.Alerts.SlackWebhook, logger)
	}

	dispatcher, err := dispatch.New(opts, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{CrontabPath: cfg.Crontab}, dispatcher, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if cfg.Control.Addr != "" {
		server := control.NewServer(cfg.Control.Addr, cfg.Control.Token, sched, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("control server: %w", err)
			}
		}()
	}

	if cfg.Watch {
		watcher := watch.New(cfg.Crontab, func() { sched.Reload() }, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Losing the watcher is not fatal; reload still works.
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("Crontab watcher stopped", "error", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			break loop
		case <-hup:
			sched.Reload()
		case err := <-errCh:
			logger.Error("Shutting down", "error", err)
			runErr = err
			break loop
		}
	}

	stop()
	sched.Stop()
	<-sched.Done()
	wg.Wait()
	logger.Info("cronexec stopped")
	return runErr
}
