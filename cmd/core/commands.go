package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/spiritlog/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/spiritlog/backend/internal/app"
	"github.com/kimhsiao/spiritlog/backend/internal/config"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// globalFlags override environment configuration.
type globalFlags struct {
	dataDir string
	store   string
	jsonOut bool
}

// appOptions lets tests inject a fake remote or store.
var appOptions app.Options

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var cfg *config.Config
	var logCloser io.Closer

	root := &cobra.Command{
		Use:           "spiritlog",
		Short:         "Offline-first sync core for the spiritlog game tracker",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if flags.dataDir != "" {
				loaded.DataDir = flags.dataDir
			}
			if flags.store != "" {
				loaded.StoreBackend = flags.store
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			logCloser, err = logging.Setup(loaded.LogLevel, loaded.LogFile)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (overrides SPIRITLOG_DATA_DIR)")
	root.PersistentFlags().StringVar(&flags.store, "store", "", "store backend: sqlite, bolt or memory")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "print JSON output")

	getConfig := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(getConfig),
		newOutboxCmd(getConfig, flags),
		newDrainCmd(getConfig, flags),
	)
	return root
}

func openApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg, appOptions)
}

func newServeCmd(getConfig func() *config.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync core and the local desktop server",
		Long: `Run the sync core until interrupted.

This starts:
  - the connectivity prober
  - the outbox file watcher
  - the sync coordinator (drain and cache passes)
  - the REST/WebSocket server for the UI`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if addr != "" {
				cfg.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return handlers.Serve(ctx, a, cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SPIRITLOG_LISTEN_ADDR)")
	return cmd
}

func newOutboxCmd(getConfig func() *config.Config, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the local outbox",
	}

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List unsynced creations and operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if owner == "" {
				owner = cfg.OwnerID
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			creations, err := a.Outbox.ListCreations(ctx, owner)
			if err != nil {
				return err
			}
			operations, err := a.Outbox.ListOperations(ctx, owner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOut {
				return json.NewEncoder(out).Encode(handlers.OutboxResponse{
					Owner:      owner,
					Creations:  creations,
					Operations: operations,
				})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tTARGET\tSTATUS\tCREATED")
			for _, c := range creations {
				fmt.Fprintf(tw, "create\t%s\t%s\t%s\t%s\n", c.ID, c.Payload.Date, c.SyncStatus, formatMillis(c.CreatedAt))
			}
			for _, op := range operations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", op.Type, op.ID, op.GameID, op.SyncStatus, formatMillis(op.CreatedAt))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "owner id (defaults to SPIRITLOG_OWNER_ID)")

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Return records stuck in syncing to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), getConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Outbox.RecoverStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d records\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, recoverCmd)
	return cmd
}

func newDrainCmd(getConfig func() *config.Config, flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Push the outbox to the remote once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := openApp(ctx, getConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Outbox.RecoverStale(ctx); err != nil {
				return err
			}
			if a.Prober != nil {
				a.Prober.Probe(ctx)
			}

			out := cmd.OutOrStdout()
			result, ran := a.Drainer.Drain(ctx, a.Identity())
			if flags.jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"ran":    ran,
					"result": result,
				})
			}
			if !ran {
				fmt.Fprintln(out, "Nothing to drain (empty outbox, offline or signed out)")
				return nil
			}
			fmt.Fprintf(out, "Synced %d, failed %d in %v\n", result.Synced, result.Failed, result.Duration().Round(time.Millisecond))
			for _, n := range result.Notifications {
				fmt.Fprintf(out, "  %s: %s\n", n.Level, n.Text)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "upper bound on the drain")
	return cmd
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
