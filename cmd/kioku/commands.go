package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/scanner"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/watcher"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer rt.Close()

			scan := scanner.New(rt.engine, rt.cfg.Scanner, scanner.WithLogger(rt.logger))
			opts := []server.Option{server.WithConfigPath(rt.configPath)}
			if watch {
				w, err := startWatching(ctx, rt, scan)
				if err != nil {
					return err
				}
				defer w.Stop()
				opts = append(opts, server.WithWatcher(w))
			}

			srv := server.NewServer(rt.engine, scan, rt.cfg, rt.logger, opts...)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			rt.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "scan configured directories and watch them for changes")
	return cmd
}

// startWatching runs an initial scan, then keeps the scanner's directories in sync.
func startWatching(ctx context.Context, rt *runtime, scan *scanner.Scanner) (*watcher.Watcher, error) {
	sum, err := scan.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial scan failed: %w", err)
	}
	rt.logger.Info("initial scan complete",
		zap.Int("indexed", sum.Indexed),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("removed", sum.Removed))
	w := watcher.New(scan.Directories(), scan.Extensions(), scan.Recursive(), scan, watcher.WithLogger(rt.logger))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	return w, nil
}

func newAddCmd(g *globalFlags) *cobra.Command {
	var group string
	var meta []string
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Store text in a group (reads stdin when no text or \"-\" is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			id, err := rt.engine.AddText(cmd.Context(), text, group, extra)
			if err != nil {
				return err
			}
			if rt.format == cli.OutputJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"id\": %q}\n", id)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group id (e.g. a chat session)")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "extra metadata as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var group string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Find stored text similar to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildQuery(args)
			if query == "" {
				return errors.New("query is empty")
			}
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			if limit <= 0 {
				limit = rt.cfg.Search.DefaultLimit
			}
			if limit > rt.cfg.Search.MaxLimit {
				limit = rt.cfg.Search.MaxLimit
			}
			results, err := rt.engine.FindSimilar(cmd.Context(), query, memory.FindOptions{GroupID: group, Limit: limit})
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), &cli.SearchOutput{Query: query, GroupID: group, Results: results}, rt.format)
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "only search this group")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a stored entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			entry, err := rt.engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteEntry(cmd.OutOrStdout(), entry, rt.format)
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete entries by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, id := range args {
				if err := rt.engine.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", len(args))
			return nil
		},
	}
}

func newGroupCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "List or delete the entries of a group",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <group>",
		Short: "List a group's entries in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			entries, err := rt.engine.ListGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteEntries(cmd.OutOrStdout(), args[0], entries, rt.format)
		},
	}, &cobra.Command{
		Use:   "delete <group>",
		Short: "Delete every entry of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := rt.engine.DeleteGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries from group %q\n", n, args[0])
			return nil
		},
	})
	return cmd
}

func newClearCmd(g *globalFlags) *cobra.Command {
	var resetModel bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all entries (model statistics are kept unless --reset-model)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.engine.Clear(cmd.Context(), resetModel); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetModel, "reset-model", false, "also reset vocabulary and document statistics")
	return cmd
}

func newScanCmd(g *globalFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "scan [dir...]",
		Short: "Index project files (defaults to scanner.directories)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer rt.Close()
			scfg := rt.cfg.Scanner
			if len(args) > 0 {
				scfg.Directories = args
			}
			if len(scfg.Directories) == 0 {
				return errors.New("no directories to scan: pass them as arguments or set scanner.directories")
			}
			scan := scanner.New(rt.engine, scfg, scanner.WithLogger(rt.logger))
			if !watch {
				sum, err := scan.Scan(ctx)
				if err != nil {
					return err
				}
				return cli.WriteScanSummary(cmd.OutOrStdout(), sum, rt.format)
			}
			w, err := startWatching(ctx, rt, scan)
			if err != nil {
				return err
			}
			defer w.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", strings.Join(scan.Directories(), ", "))
			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and index changes")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show entry counts, model size and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if rt.format == cli.OutputText {
				fmt.Fprintf(cmd.OutOrStdout(), "Base path:   %s\n", rt.engine.BasePath())
				if rt.configPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Config:      %s\n", rt.configPath)
				}
			}
			return cli.WriteStats(cmd.OutOrStdout(), st, rt.format)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kioku version %s\n", version)
		},
	}
}

// buildQuery joins args into a single query, so quoting is optional.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readText returns args joined by spaces, or stdin when args are empty or "-".
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// parseMetadata parses key=value pairs. Values that parse as a bool or a
// number are stored typed; everything else is a string.
func parseMetadata(pairs []string) (map[string]models.Value, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]models.Value, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", p)
		}
		out[key] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) models.Value {
	switch raw {
	case "true":
		return models.BoolValue(true)
	case "false":
		return models.BoolValue(false)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return models.NumberValue(n)
	}
	return models.StringValue(raw)
}
