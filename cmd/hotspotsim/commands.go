package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/hotspot-sim/internal/api"
	"github.com/talgya/hotspot-sim/internal/engine"
	"github.com/talgya/hotspot-sim/internal/persistence"
	"github.com/talgya/hotspot-sim/internal/render"
	"github.com/talgya/hotspot-sim/internal/tuning"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newWorld(cfg engine.Config) (*engine.Simulation, error) {
	slog.Info("generating world",
		"seed", cfg.Seed,
		"size", fmt.Sprintf("%dx%d", cfg.Grid.Width, cfg.Grid.Height),
		"civilians", cfg.Population.Civilians,
		"officers", cfg.Population.Officers,
		"horizon", cfg.Horizon,
	)
	return engine.New(cfg)
}

// loadWorld restores a snapshot, extending its horizon by extra ticks.
func loadWorld(path string, extra uint64) (*engine.Simulation, persistence.SnapshotHeader, error) {
	hdr, st, err := persistence.ReadSnapshot(path)
	if err != nil {
		return nil, hdr, err
	}
	sim, err := engine.Restore(st)
	if err != nil {
		return nil, hdr, fmt.Errorf("%s: %w", path, err)
	}
	if extra > 0 {
		sim.ExtendHorizon(extra)
	}
	slog.Info("world restored",
		"path", path,
		"run", hdr.RunID,
		"tick", sim.Tick(),
		"sim_time", engine.SimTime(sim.Tick()),
		"horizon", sim.Horizon(),
	)
	return sim, hdr, nil
}

func runCmd() *cobra.Command {
	var (
		world worldFlags
		store storeFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a fresh world headless to its horizon and store the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := tuning.FromEnv()
			cfg, err := world.config(cmd, rt)
			if err != nil {
				return err
			}
			sim, err := newWorld(cfg)
			if err != nil {
				return err
			}
			return runHeadless(cmd.Context(), sim, &store, rt, "")
		},
	}
	world.bind(cmd)
	store.bind(cmd)
	return cmd
}

func resumeCmd() *cobra.Command {
	var (
		store storeFlags
		extra uint64
	)
	cmd := &cobra.Command{
		Use:   "resume <snapshot>",
		Short: "Continue a world from a snapshot to its horizon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, hdr, err := loadWorld(args[0], extra)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("snapshot") {
				store.snapshotPath = args[0]
			}
			return runHeadless(cmd.Context(), sim, &store, tuning.FromEnv(), hdr.RunID)
		},
	}
	store.bind(cmd)
	cmd.Flags().Uint64Var(&extra, "extend", 0, "extend the horizon by this many ticks")
	return cmd
}

func runHeadless(parent context.Context, sim *engine.Simulation, store *storeFlags, rt tuning.Runtime, runID string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	eng := engine.NewEngine(sim)
	sess, err := openSession(store, rt, eng, runID)
	if err != nil {
		return err
	}
	defer sess.close()
	sess.attach()

	if err := sess.drive(ctx); err != nil {
		return err
	}
	sess.printSummary()
	return nil
}

func serveCmd() *cobra.Command {
	var (
		world    worldFlags
		store    storeFlags
		addr     string
		from     string
		interval time.Duration
		speed    float64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the world in real time behind the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := tuning.FromEnv()

			var (
				sim   *engine.Simulation
				runID string
				err   error
			)
			if from != "" {
				var hdr persistence.SnapshotHeader
				sim, hdr, err = loadWorld(from, 0)
				runID = hdr.RunID
			} else {
				var cfg engine.Config
				if cfg, err = world.config(cmd, rt); err == nil {
					sim, err = newWorld(cfg)
				}
			}
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			eng := engine.NewEngine(sim)
			eng.Interval = interval
			eng.SetSpeed(speed)

			sess, err := openSession(&store, rt, eng, runID)
			if err != nil {
				return err
			}
			defer sess.close()
			sess.attach()

			srv := &api.Server{
				Eng:          eng,
				DB:           sess.db,
				RunID:        sess.runID,
				AdminKey:     rt.AdminKey,
				CORSOrigins:  rt.CORSOrigins,
				SnapshotPath: sess.snapshotPath,
			}
			eng.OnHour = func(uint64) { srv.Publish(eng.Sim) }
			if addr == "" {
				addr = rt.Addr
			}
			srv.Start(addr)

			if err := sess.drive(ctx); err != nil {
				return err
			}
			if ctx.Err() == nil {
				slog.Info("horizon reached, still serving until interrupted")
				eng.View(srv.Publish)
				<-ctx.Done()
			}

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP shutdown failed", "error", err)
			}
			sess.printSummary()
			return nil
		},
	}
	world.bind(cmd)
	store.bind(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address; defaults to $"+tuning.EnvAddr+" or :8080")
	cmd.Flags().StringVar(&from, "from", "", "resume from this snapshot instead of generating a world")
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "wall time per tick at speed 1")
	cmd.Flags().Float64Var(&speed, "speed", 1, "initial speed multiplier; 0 starts paused")
	for _, f := range []string{"config", "seed", "random-seed", "ticks"} {
		cmd.MarkFlagsMutuallyExclusive("from", f)
	}
	return cmd
}

func renderCmd() *cobra.Command {
	var (
		world  worldFlags
		out    string
		cellPx int
	)

	cmd := &cobra.Command{
		Use:   "render [snapshot]",
		Short: "Draw a snapshot, or a freshly generated world, as a PNG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sim *engine.Simulation
				err error
			)
			if len(args) == 1 {
				sim, _, err = loadWorld(args[0], 0)
			} else {
				var cfg engine.Config
				if cfg, err = world.config(cmd, tuning.FromEnv()); err == nil {
					sim, err = newWorld(cfg)
				}
			}
			if err != nil {
				return err
			}
			if err := render.SavePNG(out, sim, cellPx); err != nil {
				return err
			}
			slog.Info("map written", "path", out, "tick", sim.Tick())
			return nil
		},
	}
	world.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "map.png", "output PNG path")
	cmd.Flags().IntVar(&cellPx, "cell", render.DefaultCellPx, "pixels per patch")
	return cmd
}

func configCmd() *cobra.Command {
	var world worldFlags

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := world.config(cmd, tuning.FromEnv())
			if err != nil {
				return err
			}
			out, err := tuning.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	world.bind(cmd)
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs recorded in the database",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = tuning.FromEnv().DBPath
			}
			if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no database at %s", dbPath)
			}
			db, err := persistence.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.RecentRuns(limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				status := "running"
				if r.FinishedAt != nil {
					status = "finished " + humanize.Time(*r.FinishedAt)
				}
				fmt.Printf("%s  seed=%-20d tick=%-8s robberies=%-5d stops=%-5d started %s, %s\n",
					r.ID, r.Seed, humanize.Comma(int64(r.Tick)), r.Victimisations, r.StopSearches,
					humanize.Time(r.StartedAt), status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database; defaults to $"+tuning.EnvDB+" or data/hotspot.db")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
