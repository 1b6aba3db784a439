// acquire resolves quote records for a list of securities across the
// configured providers and prints one JSON object per security.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/marketdata/internal/adapters"
	"github.com/Rajchodisetti/marketdata/internal/config"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/state"
)

var version = "dev" // set via -ldflags

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	observ.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "acquire",
		Short:         "Resolve quote records across market data providers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/marketdata.yaml", "config path")

	root.AddCommand(fetchCmd(&cfgPath))
	root.AddCommand(statusCmd(&cfgPath))
	root.AddCommand(resetCmd(&cfgPath))
	return root
}

func loadConfig(path string) (config.Root, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := observ.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return cfg, err
	}
	observ.SetVersion(version)
	return cfg, nil
}

type fetchOptions struct {
	fields      string
	asOf        string
	metricsAddr string
	oneshot     bool
	chaos       adapters.ChaosConfig
}

// output is one line of fetch output
type output struct {
	SecurityID string        `json:"security_id"`
	Record     *quote.Record `json:"record,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func fetchCmd(cfgPath *string) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch [securities...]",
		Short: "Resolve records for the given securities, or the configured list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return runFetch(cmd.Context(), cmd.OutOrStdout(), cfg, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.fields, "fields", "", "comma-separated fields (default: required_fields from config)")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "evaluation date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&opts.oneshot, "oneshot", true, "exit after printing results (set false to keep the metrics server)")
	cmd.Flags().Float64Var(&opts.chaos.TimeoutRate, "chaos-timeout-rate", 0, "inject timeouts at this rate")
	cmd.Flags().Float64Var(&opts.chaos.ThrottleRate, "chaos-throttle-rate", 0, "inject rate limit responses at this rate")
	cmd.Flags().Float64Var(&opts.chaos.ProtocolRate, "chaos-protocol-rate", 0, "inject malformed responses at this rate")
	cmd.Flags().Int64Var(&opts.chaos.Seed, "chaos-seed", 0, "seed for injected failures")
	return cmd
}

func runFetch(ctx context.Context, w io.Writer, cfg config.Root, args []string, opts fetchOptions) error {
	securities := args
	if len(securities) == 0 {
		securities = cfg.Securities
	}
	if len(securities) == 0 {
		return errors.New("no securities given and none configured")
	}

	fields, err := requestedFields(cfg, opts.fields)
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(opts.asOf, time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, opts.chaos)
	if err != nil {
		return err
	}

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		shutdown := a.serveMetrics(addr)
		defer shutdown()
	}

	observ.Log("fetch_start", map[string]any{
		"securities": len(securities),
		"fields":     len(fields),
		"as_of":      asOf.Format("2006-01-02"),
	})

	results := a.resolver.ResolveAll(ctx, securities, fields, asOf)

	enc := json.NewEncoder(w)
	failed := 0
	for _, res := range results {
		line := output{SecurityID: res.SecurityID}
		if res.Record.SecurityID() != "" {
			rec := res.Record
			line.Record = &rec
		}
		if res.Err != nil {
			failed++
			line.Error = res.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			_ = a.close(context.WithoutCancel(ctx))
			return fmt.Errorf("write output: %w", err)
		}
	}

	observ.Log("fetch_done", map[string]any{
		"securities": len(securities),
		"failed":     failed,
	})

	if !opts.oneshot && addr != "" {
		<-ctx.Done()
	}

	// Breaker state is saved even when the run was interrupted
	if err := a.close(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if failed == len(results) {
		return fmt.Errorf("no security resolved (%d attempted)", failed)
	}
	return nil
}

func requestedFields(cfg config.Root, flag string) ([]quote.Field, error) {
	if strings.TrimSpace(flag) == "" {
		return cfg.Required()
	}
	fields, err := quote.ParseFields(strings.Split(flag, ","))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.New("--fields is empty")
	}
	return fields, nil
}

func parseAsOf(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of: %w", err)
	}
	return t, nil
}

func statusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print persisted circuit breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			snaps, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(snaps))
			for name := range snaps {
				names = append(names, name)
			}
			sort.Strings(names)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, name := range names {
				if err := enc.Encode(snaps[name]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func resetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear persisted circuit breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			observ.Log("breaker_state_cleared", map[string]any{"backend": cfg.State.Backend})
			fmt.Fprintln(cmd.OutOrStdout(), "breaker state cleared")
			return nil
		},
	}
}
