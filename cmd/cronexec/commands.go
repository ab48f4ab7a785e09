package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/amariwan/cronexec/internal/analyze"
	"github.com/amariwan/cronexec/internal/control"
	"github.com/amariwan/cronexec/internal/crontab"
	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/report"
	"github.com/amariwan/cronexec/internal/storage"
	"github.com/spf13/cobra"
)

var (
	// client flags
	clientAddr  string
	clientToken string

	// list flags
	listOffline bool
	listFormat  string

	// history flags
	historyLimit     int
	historyAnomalies bool
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientAddr, "addr", "", "Control server address (default from config)")
	cmd.Flags().StringVar(&clientToken, "token", "", "Control server token (default from config)")
}

func newClient(cmd *cobra.Command) *control.Client {
	addr, token := cfg.Control.Addr, cfg.Control.Token
	if cmd.Flags().Changed("addr") {
		addr = clientAddr
	}
	if cmd.Flags().Changed("token") {
		token = clientToken
	}
	return control.NewClient(addr, token)
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its crontab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := newClient(cmd).Reload(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Print(reply)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the active crontab rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !listOffline {
				out, err := newClient(cmd).List(cmd.Context(), listFormat)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}

			renderer, err := report.ForFormat(listFormat)
			if err != nil {
				return &usageError{msg: err.Error()}
			}
			res, err := readCrontab(cfg.Crontab)
			if err != nil {
				return err
			}
			out, err := renderer.Render(res.Rules)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
	addClientFlags(cmd)
	cmd.Flags().BoolVar(&listOffline, "offline", false, "Read the crontab file directly instead of asking the daemon")
	cmd.Flags().StringVar(&listFormat, "format", "text", "Output format (text|json|markdown)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [crontab]",
		Short: "Validate a crontab file without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.Crontab
			if len(args) == 1 {
				path = args[0]
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open crontab: %w", err)
			}
			defer f.Close()

			res, err := crontab.Parse(f, logger)
			if err != nil {
				return fmt.Errorf("failed to read crontab: %w", err)
			}
			cmd.Printf("%s: %d rules, %d rejected\n", path, len(res.Rules), res.Rejected)
			if res.Rejected > 0 {
				return fmt.Errorf("%d malformed lines in %s", res.Rejected, path)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently dispatched commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.History.Path == "" {
				return &usageError{msg: "history is disabled (history.path is empty)"}
			}
			store, err := storage.NewHistoryStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			limit := historyLimit
			if historyAnomalies && !cmd.Flags().Changed("limit") {
				limit = 500
			}
			records, err := store.Recent(limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			if historyAnomalies {
				printAnomalies(cmd, analyze.NewAnomalyDetector(0).Detect(records))
				return nil
			}
			printHistory(cmd, records)
			return nil
		},
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of records to show")
	cmd.Flags().BoolVar(&historyAnomalies, "anomalies", false, "Only show runs that took far longer than usual for their command")
	return cmd
}

func printHistory(cmd *cobra.Command, records []models.DispatchRecord) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tSTATUS\tCOMMAND")
	for _, rec := range records {
		status := "ok"
		if rec.Failed() {
			status = "failed: " + rec.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			rec.StartTime.Local().Format("2006-01-02 15:04:05"),
			rec.Duration.Round(time.Millisecond),
			status,
			rec.Command)
	}
	tw.Flush()
}

func printAnomalies(cmd *cobra.Command, anomalies []analyze.Anomaly) {
	if len(anomalies) == 0 {
		cmd.Println("No slow runs found")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tEXPECTED\tZ-SCORE\tCOMMAND")
	for _, a := range anomalies {
		fmt.Fprintf(tw, "%s\t%s\t%.0fms ± %.0fms\t%.1f\t%s\n",
			a.Record.StartTime.Local().Format("2006-01-02 15:04:05"),
			a.Record.Duration.Round(time.Millisecond),
			a.ExpectedMean, a.StandardDev,
			a.ZScore,
			a.Record.Command)
	}
	tw.Flush()
}

// readCrontab parses path without the loader's template side effect.
func readCrontab(path string) (crontab.LoadResult, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return crontab.LoadResult{Rules: models.RuleSet{}}, nil
	}
	if err != nil {
		return crontab.LoadResult{}, fmt.Errorf("failed to open crontab: %w", err)
	}
	defer f.Close()
	return crontab.Parse(f, logger)
}
