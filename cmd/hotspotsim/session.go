package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/hotspot-sim/internal/engine"
	"github.com/talgya/hotspot-sim/internal/entropy"
	"github.com/talgya/hotspot-sim/internal/persistence"
	"github.com/talgya/hotspot-sim/internal/tuning"
)

// worldFlags choose the configuration of a fresh world.
type worldFlags struct {
	configPath string
	seed       uint64
	randomSeed bool
	ticks      uint64
}

func (f *worldFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML config file; built-in defaults when empty")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "override the configured seed")
	cmd.Flags().BoolVar(&f.randomSeed, "random-seed", false, "draw a fresh seed from random.org, or crypto/rand without an API key")
	cmd.Flags().Uint64Var(&f.ticks, "ticks", 0, "override the horizon, in ticks")
	cmd.MarkFlagsMutuallyExclusive("seed", "random-seed")
}

// config loads the file, applies the environment and then the flags.
func (f *worldFlags) config(cmd *cobra.Command, rt tuning.Runtime) (engine.Config, error) {
	cfg, err := tuning.Load(f.configPath)
	if err != nil {
		return engine.Config{}, err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = f.seed
	}
	if f.randomSeed {
		seed, src := entropy.Seed(cmd.Context(), entropy.NewClient(rt.RandomOrgKey))
		cfg.Seed = seed
		slog.Info("seed drawn", "seed", seed, "source", src)
	}
	if f.ticks > 0 {
		cfg.Horizon = f.ticks
	}
	return cfg, cfg.Validate()
}

// storeFlags choose where a run's results go.
type storeFlags struct {
	dbPath        string
	noDB          bool
	snapshotPath  string
	snapshotEvery uint64
	statsLogPath  string
}

func (f *storeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database for run results; defaults to $"+tuning.EnvDB+" or data/hotspot.db")
	cmd.Flags().BoolVar(&f.noDB, "no-db", false, "do not record the run in the database")
	cmd.Flags().StringVar(&f.snapshotPath, "snapshot", "", "snapshot file; defaults to data/snapshots/<run>.snap.zst")
	cmd.Flags().Uint64Var(&f.snapshotEvery, "snapshot-every", 7, "also snapshot every N simulated days; 0 only at the end")
	cmd.Flags().StringVar(&f.statsLogPath, "stats-log", "", "write daily stats as zstd-compressed JSON lines to this file")
}

// session ties a running engine to its stores. The callbacks installed by
// attach run while the loop holds the engine lock; the rest runs with the
// loop stopped.
type session struct {
	eng           *engine.Engine
	db            *persistence.DB
	runID         string
	statsLog      *persistence.StatsLog
	snapshotPath  string
	snapshotEvery uint64

	lastSaved uint64
	started   time.Time
}

// openSession opens the stores named by f. A run is registered for a fresh
// world, or reused when resuming one the database already knows.
func openSession(f *storeFlags, rt tuning.Runtime, eng *engine.Engine, runID string) (*session, error) {
	s := &session{eng: eng, snapshotEvery: f.snapshotEvery, started: time.Now()}
	cfg := eng.Sim.Config()
	if f.dbPath == "" {
		f.dbPath = rt.DBPath
	}

	if !f.noDB {
		if dir := filepath.Dir(f.dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err := persistence.Open(f.dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = db
		slog.Info("database opened", "path", f.dbPath)

		if runID != "" {
			if _, err := db.GetRun(runID); err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					s.close()
					return nil, err
				}
				slog.Warn("snapshot run not in database, registering a new run", "run", runID)
				runID = ""
			}
		}
		if runID == "" {
			yml, err := tuning.Marshal(cfg)
			if err != nil {
				s.close()
				return nil, err
			}
			if runID, err = db.CreateRun(cfg, string(yml)); err != nil {
				s.close()
				return nil, err
			}
		}
	}
	if runID == "" {
		runID = fmt.Sprintf("local-%d", cfg.Seed)
	}
	s.runID = runID
	s.lastSaved = eng.Sim.Tick()

	s.snapshotPath = f.snapshotPath
	if s.snapshotPath == "" {
		s.snapshotPath = filepath.Join("data", "snapshots", runID+".snap.zst")
	}

	if f.statsLogPath != "" {
		l, err := persistence.CreateStatsLog(f.statsLogPath)
		if err != nil {
			s.close()
			return nil, err
		}
		s.statsLog = l
	}
	return s, nil
}

// attach installs the daily and weekly callbacks.
func (s *session) attach() {
	s.eng.OnDay = func(tick uint64) {
		sim := s.eng.Sim
		sim.DailyReport()
		if err := s.record(sim); err != nil {
			slog.Error("daily save failed", "tick", tick, "error", err)
		}
		if s.snapshotEvery > 0 && tick%(s.snapshotEvery*engine.TicksPerSimDay) == 0 {
			if err := s.snapshot(sim); err != nil {
				slog.Error("snapshot failed", "tick", tick, "error", err)
			}
		}
	}
	s.eng.OnWeek = func(uint64) {
		s.eng.Sim.WeeklySummary()
	}
}

// record stores the day's stats row and the events since the last save.
func (s *session) record(sim *engine.Simulation) error {
	st := sim.Stats()
	events := sim.EventsSince(s.lastSaved)
	if s.db != nil {
		if err := s.db.SaveDaily(s.runID, st); err != nil {
			return err
		}
		if err := s.db.SaveEvents(s.runID, events); err != nil {
			return err
		}
	}
	if s.statsLog != nil {
		if err := s.statsLog.Write(st); err != nil {
			return err
		}
	}
	s.lastSaved = sim.Tick()
	return nil
}

func (s *session) snapshot(sim *engine.Simulation) error {
	st, err := sim.Export()
	if err != nil {
		return err
	}
	if err := persistence.WriteSnapshot(s.snapshotPath, s.runID, st); err != nil {
		return err
	}
	slog.Info("snapshot written", "path", s.snapshotPath, "tick", st.Tick)
	return nil
}

// drive runs the engine to its horizon. On cancellation the world is
// snapshotted so it can be resumed; at the horizon the results are stored.
func (s *session) drive(ctx context.Context) error {
	err := s.eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	var finishErr error
	s.eng.View(func(sim *engine.Simulation) {
		if sim.Tick()%engine.TicksPerSimDay != 0 || sim.Tick() == 0 {
			if e := s.record(sim); e != nil {
				finishErr = e
				return
			}
		}
		if e := s.snapshot(sim); e != nil {
			finishErr = e
			return
		}
		if err == nil && s.db != nil {
			finishErr = s.db.FinishRun(s.runID, sim.Stats(), sim.AgentRecords(), sim.IncidentPatches())
		}
	})
	if finishErr != nil {
		return finishErr
	}
	if err != nil {
		slog.Info("run interrupted, resume from the snapshot", "snapshot", s.snapshotPath)
	}
	return nil
}

func (s *session) close() {
	if s.statsLog != nil {
		if err := s.statsLog.Close(); err != nil {
			slog.Error("stats log close failed", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
}

// printSummary writes the end-of-run report to stdout.
func (s *session) printSummary() {
	s.eng.View(func(sim *engine.Simulation) {
		st := sim.Stats()
		fmt.Printf("run        %s\n", s.runID)
		fmt.Printf("seed       %d\n", sim.Config().Seed)
		fmt.Printf("ticks      %s of %s (%s)\n",
			humanize.Comma(int64(st.Tick)), humanize.Comma(int64(sim.Horizon())), engine.SimTime(st.Tick))
		fmt.Printf("elapsed    %s\n", time.Since(s.started).Round(time.Millisecond))
		fmt.Printf("robberies  %s\n", humanize.Comma(int64(st.Victimisations)))
		fmt.Printf("stops      %s\n", humanize.Comma(int64(st.StopSearches)))
		fmt.Printf("hotspots   %d patches, %s incidents\n", st.HotspotCount, humanize.Comma(int64(st.TotalIncidents)))

		ethnicities := make([]string, 0, len(st.StopsByEthnicity))
		for e, n := range st.StopsByEthnicity {
			ethnicities = append(ethnicities, fmt.Sprintf("%s=%d", e, n))
		}
		sort.Strings(ethnicities)
		fmt.Printf("stops by   %v\n", ethnicities)

		if fi, err := os.Stat(s.snapshotPath); err == nil {
			fmt.Printf("snapshot   %s (%s)\n", s.snapshotPath, humanize.Bytes(uint64(fi.Size())))
		}
	})
}
