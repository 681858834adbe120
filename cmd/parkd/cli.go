package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/pkg/core"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored parking locations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		return withStore(cmd, "list", func(ctx context.Context, store storage.Backend) error {
			records, err := store.GetAll(ctx)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, format)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write every stored location to a JSON export (gzip when the name ends in .gz)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, "export", func(ctx context.Context, store storage.Backend) error {
			n, err := storage.ExportBackend(ctx, store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d locations to %s\n", n, args[0])
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Print locations whose parking timer has run out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		return withStore(cmd, "sweep", func(ctx context.Context, store storage.Backend) error {
			due, err := dueTimers(ctx, store, time.Now())
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), due, format)
		})
	},
}

func init() {
	listCmd.Flags().String("format", "table", "Output format (table, json)")
	sweepCmd.Flags().String("format", "table", "Output format (table, json)")
}

// withStore runs fn against the configured store, logging to a file named
// after the command so stdout only carries the result.
func withStore(cmd *cobra.Command, name string, fn func(ctx context.Context, store storage.Backend) error) error {
	a, err := newApp(ServiceName+"-"+name, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := openStore(config.GetStorageConfig(), a.SlogManager)
	if err != nil {
		a.Logger.Error("Failed to open storage", "error", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.Logger.Error("Failed to close storage", "error", err)
		}
	}()

	if err := fn(cmd.Context(), store); err != nil {
		a.Logger.Error("Command failed", "command", name, "error", err)
		return err
	}
	return nil
}

// idleTimers satisfies lifecycle.TimerScheduler without arming anything, so
// a one-shot command never fires reminders.
type idleTimers struct{}

func (idleTimers) Schedule(core.LocationRecord) error { return nil }
func (idleTimers) Cancel(string)                       {}

func dueTimers(ctx context.Context, store storage.Backend, now time.Time) ([]core.LocationRecord, error) {
	mgr, err := lifecycle.New(lifecycle.Dependencies{
		Store:  store,
		Timers: idleTimers{},
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, err
	}
	return mgr.DueTimers(now), nil
}

func printRecords(w io.Writer, records []core.LocationRecord, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []core.LocationRecord{}
		}
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARKED\tTYPE\tEXPIRES\tADDRESS")
	for _, r := range records {
		expires := "-"
		if r.HasTimer() {
			expires = r.ExpiryTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.ParkingType,
			expires,
			r.AddressOrEmpty(),
		)
	}
	return tw.Flush()
}
