// Package main is the homeinv command line tool. It inspects the on-device
// mutation queue and can drain it in the foreground.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/homeinventory/internal/app"
	"github.com/kimhsiao/homeinventory/internal/config"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dataDir string
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "homeinv",
		Short:         "Inspect and drain the home inventory sync queue",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "database directory (overrides DATA_DIR)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON")

	root.AddCommand(
		newStatusCmd(opts),
		newPendingCmd(opts),
		newFailuresCmd(opts),
		newSyncCmd(opts),
	)
	return root
}

// openApp loads configuration and wires the core without starting it.
func openApp(opts *options) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Database.DataDir = opts.dataDir
	}
	// stdout belongs to the command output
	logging.Init(os.Stderr, logging.ParseLevel(cfg.Log.Level))
	return app.New(app.Options{Config: cfg})
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync banner state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Prober != nil {
				a.Prober.Probe(cmd.Context())
			}
			s := a.Status.Refresh()
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, s)
			}
			fmt.Fprintf(out, "state:   %s\n", s.State)
			fmt.Fprintf(out, "online:  %t\n", s.Online)
			fmt.Fprintf(out, "pending: %d\n", s.PendingCount)
			fmt.Fprintf(out, "failed:  %d\n", s.FailedCount)
			return nil
		},
	}
}

func newPendingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued mutations in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Queue.Pending()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				if entries == nil {
					entries = []*models.PendingSyncEntry{}
				}
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tACTION\tTABLE\tENTITY\tRETRIES\tQUEUED\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Seq, e.Action, e.Table, e.EntityID, e.Retries, millis(e.EnqueuedAt), e.LastError)
			}
			return w.Flush()
		},
	}
}

func newFailuresCmd(opts *options) *cobra.Command {
	var retry, discard string
	var table string
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List poisoned mutations, or retry/discard one entity's",
		Example: `  homeinv failures
  homeinv failures --table items --retry 6f1c...
  homeinv failures --table items --discard 6f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retry != "" && discard != "" {
				return fmt.Errorf("--retry and --discard are exclusive")
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if retry != "" || discard != "" {
				t, err := models.ParseTable(table)
				if err != nil {
					return err
				}
				if retry != "" {
					n, err := a.Queue.Retry(t, retry)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "requeued %d entries for %s/%s\n", n, t, retry)
					return nil
				}
				n, err := a.Queue.Discard(t, discard)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "discarded %d entries for %s/%s\n", n, t, discard)
				return nil
			}

			failures, err := a.Queue.Failures()
			if err != nil {
				return err
			}
			if opts.json {
				if failures == nil {
					failures = []*models.SyncFailure{}
				}
				return writeJSON(out, failures)
			}
			if len(failures) == 0 {
				fmt.Fprintln(out, "no failures")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tTABLE\tENTITY\tRETRIES\tPERMANENT\tFAILED\tREASON")
			for _, f := range failures {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
					f.Action, f.Table, f.EntityID, f.Retries, f.Permanent, millis(f.FailedAt), f.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&table, "table", "items", "table of the entity (items, locations, categories)")
	cmd.Flags().StringVar(&retry, "retry", "", "requeue the failed entries of this entity id")
	cmd.Flags().StringVar(&discard, "discard", "", "drop the failed entries of this entity id")
	return cmd
}

func newSyncCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one drain cycle in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if a.Prober != nil {
				a.Prober.Probe(ctx)
			} else {
				a.Connectivity.SetOnline(true)
			}

			result, err := a.Scheduler.SyncNow(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "synced %d, poisoned %d, images %d (%d failed), %d remaining in %s\n",
				result.Synced, result.Poisoned, result.ImagesUploaded, result.ImageFailures,
				result.Remaining, result.Duration.Round(time.Millisecond))
			if result.Halted {
				fmt.Fprintf(out, "halted: %s\n", result.HaltReason)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func millis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
