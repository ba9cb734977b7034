package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"parking/internal/app"
	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/types"
)

// engineFactory builds an Engine whose clock is frozen at at, or the real
// clock when at is nil. The returned func releases its resources.
type engineFactory func(ctx context.Context, at *time.Time) (*app.Engine, func(), error)

// dbEngine opens the Postgres-backed engine from the environment.
func dbEngine(ctx context.Context, at *time.Time) (*app.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel).With("service", "parkctl")

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	awsCfg, err := app.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	deps := app.Deps{
		TxManager: db.NewTxManager(pool, logger),
		Repos:     db.NewRepos(pool),
		Publisher: app.NewPublisher(awsCfg, cfg.AWS, logger),
		Logger:    logger,
	}
	if at != nil {
		deps.Clock = types.FixedClock{T: at.UTC()}
	}
	engine, err := app.NewEngine(cfg.Lot, deps)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return engine, pool.Close, nil
}

func newRootCmd(open engineFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "parkctl",
		Short:         "Operate the parking reservation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPlazaCmd(open),
		newQuoteCmd(open),
		newSweepCmd(open),
		newHashTokenCmd(),
		newDemoCmd(),
		newVersionCmd(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw, name string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}

func newPlazaCmd(open engineFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "plaza LOT NUMBER",
		Short: "Reconcile a plaza and print its state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lotID, err := parseID(args[0], "LOT")
			if err != nil {
				return err
			}
			number, err := parseID(args[1], "NUMBER")
			if err != nil {
				return err
			}

			engine, done, err := open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer done()

			p, res, err := engine.Plazas.Reconcile(cmd.Context(), types.PlazaKey{LotID: lotID, Number: int(number)})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"plaza": p, "sync": res})
		},
	}
}

func newQuoteCmd(open engineFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "quote OCCUPANCY_ID",
		Short: "Print the running fee of an active occupancy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "OCCUPANCY_ID")
			if err != nil {
				return err
			}
			engine, done, err := open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer done()

			fee, err := engine.Tariffs.Quote(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fee)
		},
	}
}

// sweepTasks maps task names to a per-lot run returning processed and
// failed item counts.
var sweepTasks = map[string]func(ctx context.Context, e *app.Engine, lotID int64) (int, int, error){
	"expire_subscriptions": func(ctx context.Context, e *app.Engine, lotID int64) (int, int, error) {
		results, err := e.Subscriptions.ProcessExpired(ctx, lotID)
		failed := 0
		for _, r := range results {
			if r.Action == types.ExpiryError {
				failed++
			}
		}
		return len(results), failed, err
	},
	"expire_reservations": func(ctx context.Context, e *app.Engine, lotID int64) (int, int, error) {
		results, err := e.Reservations.ExpireOverdue(ctx, lotID)
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		return len(results), failed, err
	},
	"reconcile_plazas": func(ctx context.Context, e *app.Engine, lotID int64) (int, int, error) {
		results, err := e.Plazas.ReconcileLot(ctx, lotID)
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		return len(results), failed, err
	},
}

type lotOutcome struct {
	LotID     int64  `json:"lot_id"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func newSweepCmd(open engineFactory) *cobra.Command {
	var (
		lots        []int64
		at          string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:       "sweep TASK",
		Short:     "Run a maintenance task on one or more lots",
		Long:      "TASK is one of expire_subscriptions, expire_reservations, reconcile_plazas.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"expire_subscriptions", "expire_reservations", "reconcile_plazas"},
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok := sweepTasks[args[0]]
			if !ok {
				return fmt.Errorf("unknown task %q", args[0])
			}
			if len(lots) == 0 {
				return fmt.Errorf("at least one --lot is required")
			}

			var ref *time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				ref = &t
			}

			engine, done, err := open(cmd.Context(), ref)
			if err != nil {
				return err
			}
			defer done()

			out := make([]lotOutcome, len(lots))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for i, lotID := range lots {
				g.Go(func() error {
					processed, failed, err := task(ctx, engine, lotID)
					out[i] = lotOutcome{LotID: lotID, Processed: processed, Failed: failed}
					if err != nil {
						out[i].Error = err.Error()
					}
					return nil
				})
			}
			_ = g.Wait()

			return writeJSON(cmd.OutOrStdout(), map[string]any{"task": args[0], "lots": out})
		},
	}
	cmd.Flags().Int64SliceVar(&lots, "lot", nil, "lot id (repeatable)")
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339); defaults to now")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "lots swept in parallel")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Read an ops token from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}
			token := strings.TrimSpace(line)
			if len(token) < 16 {
				return fmt.Errorf("token must be at least 16 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), config.NewBuildInfo())
		},
	}
}
