// villagectl runs one-off maintenance against the game store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"village_backend/internal/app"
	"village_backend/internal/config"
	"village_backend/internal/logger"
	"village_backend/internal/service"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "villagectl",
		Short:        "Village backend maintenance tool",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSweepCmd(),
		newRotateCmd(),
		newProjectCmd(),
		newBossCmd(),
		newTokenCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads configuration, opens the store and hands a wired App to fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, app.New(cfg, store))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSweepCmd() *cobra.Command {
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale sagas and unapplied premium payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if cmd.Flags().Changed("min-age") {
					a.Config.Sweep.MinAge = minAge
				}
				report, paid, err := a.SweepOnce(ctx)
				fmt.Printf("scanned=%d completed=%d compensated=%d aborted=%d failed=%d payments=%d\n",
					report.Scanned, report.Completed, report.Compensated, report.Aborted, report.Failed, paid)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "only touch records older than this (default SWEEP_MIN_AGE)")
	return cmd
}

func newRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Advance the world boss cycle if it has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cycle, rotated, err := a.WorldBoss.Rotate(ctx)
				if err != nil {
					return err
				}
				if !rotated {
					fmt.Println("cycle still running")
				}
				return printJSON(cycle)
			})
		},
	}
}

func newProjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "project <player_id>",
		Short: "Print a player's village with production projected to now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				status, err := a.Villages.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func newBossCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boss [player_id]",
		Short: "Print the world boss leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var playerID string
				if len(args) == 1 {
					playerID = args[0]
				}
				snap, err := a.WorldBoss.Snapshot(ctx, playerID)
				if err != nil {
					return err
				}
				return printJSON(snap)
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <player_id>",
		Short: "Issue an API token for testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			token, err := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <player_id>",
		Short: "Print a player's newest audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				events, err := a.Audit.PlayerEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of events to print")
	return cmd
}
