// Package persistence stores run results in SQLite and world snapshots on
// disk.
package persistence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/hotspot-sim/internal/engine"
)

// timeLayout keeps stored timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a SQLite connection holding the results of simulation runs.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		horizon INTEGER NOT NULL,
		config_yaml TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		tick INTEGER NOT NULL DEFAULT 0,
		victimisations INTEGER NOT NULL DEFAULT 0,
		stop_searches INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS daily (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		victimisations INTEGER NOT NULL,
		stop_searches INTEGER NOT NULL,
		hotspots INTEGER NOT NULL,
		total_incidents INTEGER NOT NULL,
		offenders_on_cooldown INTEGER NOT NULL,
		officers_at_scene INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agent_results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id INTEGER NOT NULL,
		ethnicity TEXT NOT NULL,
		zone INTEGER NOT NULL,
		victim_count INTEGER NOT NULL,
		stop_search_count INTEGER NOT NULL,
		offence_count INTEGER NOT NULL,
		offender INTEGER NOT NULL,
		chronic INTEGER NOT NULL,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS patch_results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		zone INTEGER NOT NULL,
		risk INTEGER NOT NULL,
		incidents INTEGER NOT NULL,
		PRIMARY KEY (run_id, x, y)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run summarises one stored simulation run.
type Run struct {
	ID             string     `json:"id"`
	Seed           uint64     `json:"seed"`
	Horizon        uint64     `json:"horizon"`
	ConfigYAML     string     `json:"config_yaml"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Tick           uint64     `json:"tick"`
	Victimisations int        `json:"victimisations"`
	StopSearches   int        `json:"stop_searches"`
}

// runRow mirrors the runs table. Seeds use the full uint64 range, which
// SQLite can only hold as a bit-cast int64.
type runRow struct {
	ID             string  `db:"id"`
	Seed           int64   `db:"seed"`
	Horizon        uint64  `db:"horizon"`
	ConfigYAML     string  `db:"config_yaml"`
	StartedAt      string  `db:"started_at"`
	FinishedAt     *string `db:"finished_at"`
	Tick           uint64  `db:"tick"`
	Victimisations int     `db:"victimisations"`
	StopSearches   int     `db:"stop_searches"`
}

func (r runRow) run() (Run, error) {
	out := Run{
		ID:             r.ID,
		Seed:           uint64(r.Seed),
		Horizon:        r.Horizon,
		ConfigYAML:     r.ConfigYAML,
		Tick:           r.Tick,
		Victimisations: r.Victimisations,
		StopSearches:   r.StopSearches,
	}
	var err error
	if out.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
		return Run{}, fmt.Errorf("run %s: %w", r.ID, err)
	}
	if r.FinishedAt != nil {
		t, err := time.Parse(timeLayout, *r.FinishedAt)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: %w", r.ID, err)
		}
		out.FinishedAt = &t
	}
	return out, nil
}

// CreateRun registers a new run and returns its ID.
func (db *DB) CreateRun(cfg engine.Config, configYAML string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, seed, horizon, config_yaml, started_at) VALUES (?, ?, ?, ?, ?)",
		id, int64(cfg.Seed), cfg.Horizon, configYAML, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// Daily is one end-of-day row of cumulative run statistics.
type Daily struct {
	RunID               string `db:"run_id" json:"-"`
	Tick                uint64 `db:"tick" json:"tick"`
	Victimisations      int    `db:"victimisations" json:"victimisations"`
	StopSearches        int    `db:"stop_searches" json:"stop_searches"`
	Hotspots            int    `db:"hotspots" json:"hotspots"`
	TotalIncidents      int    `db:"total_incidents" json:"total_incidents"`
	OffendersOnCooldown int    `db:"offenders_on_cooldown" json:"offenders_on_cooldown"`
	OfficersAtScene     int    `db:"officers_at_scene" json:"officers_at_scene"`
}

// SaveDaily records the day's statistics and updates the run's progress.
func (db *DB) SaveDaily(runID string, st engine.Stats) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := Daily{
		RunID:               runID,
		Tick:                st.Tick,
		Victimisations:      st.Victimisations,
		StopSearches:        st.StopSearches,
		Hotspots:            st.HotspotCount,
		TotalIncidents:      st.TotalIncidents,
		OffendersOnCooldown: st.OffendersOnCooldown,
		OfficersAtScene:     st.OfficersAtScene,
	}
	_, err = tx.NamedExec(`INSERT OR REPLACE INTO daily
		(run_id, tick, victimisations, stop_searches, hotspots, total_incidents,
		 offenders_on_cooldown, officers_at_scene)
		VALUES (:run_id, :tick, :victimisations, :stop_searches, :hotspots, :total_incidents,
		 :offenders_on_cooldown, :officers_at_scene)`, row)
	if err != nil {
		return fmt.Errorf("insert daily: %w", err)
	}
	if err := updateProgress(tx, runID, st); err != nil {
		return err
	}
	return tx.Commit()
}

func updateProgress(tx *sqlx.Tx, runID string, st engine.Stats) error {
	res, err := tx.Exec(
		"UPDATE runs SET tick = ?, victimisations = ?, stop_searches = ? WHERE id = ?",
		st.Tick, st.Victimisations, st.StopSearches, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// SaveEvents appends events to a run's log.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, tick, description, category) VALUES (?, ?, ?, ?)",
			runID, e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type agentRow struct {
	RunID string `db:"run_id"`
	engine.AgentRecord
}

type patchRow struct {
	RunID string `db:"run_id"`
	engine.PatchRecord
}

// FinishRun stores the per-civilian and per-patch results of a run and
// marks it finished. Results from an earlier call are replaced.
func (db *DB) FinishRun(runID string, st engine.Stats, records []engine.AgentRecord, patches []engine.PatchRecord) error {
	slog.Info("saving run results", "run", runID, "agents", len(records), "patches", len(patches))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateProgress(tx, runID, st); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE runs SET finished_at = ? WHERE id = ?", time.Now().UTC().Format(timeLayout), runID); err != nil {
		return err
	}
	for _, table := range []string{"agent_results", "patch_results"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return err
		}
	}

	agentStmt, err := tx.PrepareNamed(`INSERT INTO agent_results
		(run_id, agent_id, ethnicity, zone, victim_count, stop_search_count, offence_count, offender, chronic)
		VALUES (:run_id, :agent_id, :ethnicity, :zone, :victim_count, :stop_search_count, :offence_count, :offender, :chronic)`)
	if err != nil {
		return err
	}
	defer agentStmt.Close()
	for _, r := range records {
		if _, err := agentStmt.Exec(agentRow{RunID: runID, AgentRecord: r}); err != nil {
			return fmt.Errorf("insert agent %d: %w", r.ID, err)
		}
	}

	patchStmt, err := tx.PrepareNamed(`INSERT INTO patch_results (run_id, x, y, zone, risk, incidents)
		VALUES (:run_id, :x, :y, :zone, :risk, :incidents)`)
	if err != nil {
		return err
	}
	defer patchStmt.Close()
	for _, p := range patches {
		if _, err := patchStmt.Exec(patchRow{RunID: runID, PatchRecord: p}); err != nil {
			return fmt.Errorf("insert patch (%d,%d): %w", p.X, p.Y, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run results saved", "run", runID)
	return nil
}

// GetRun loads one run by ID.
func (db *DB) GetRun(runID string) (Run, error) {
	var row runRow
	if err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", runID); err != nil {
		return Run{}, err
	}
	return row.run()
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	var rows []runRow
	if err := db.conn.Select(&rows, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit); err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// RunDaily returns a run's daily rows in tick order.
func (db *DB) RunDaily(runID string) ([]Daily, error) {
	var rows []Daily
	err := db.conn.Select(&rows, "SELECT * FROM daily WHERE run_id = ? ORDER BY tick", runID)
	return rows, err
}

// RunAgents returns a run's per-civilian results in ID order.
func (db *DB) RunAgents(runID string) ([]engine.AgentRecord, error) {
	var rows []engine.AgentRecord
	err := db.conn.Select(&rows, `SELECT agent_id, ethnicity, zone, victim_count, stop_search_count,
		offence_count, offender, chronic FROM agent_results WHERE run_id = ? ORDER BY agent_id`, runID)
	return rows, err
}

// RunPatches returns a run's incident patches in row-major order.
func (db *DB) RunPatches(runID string) ([]engine.PatchRecord, error) {
	var rows []engine.PatchRecord
	err := db.conn.Select(&rows,
		"SELECT x, y, zone, risk, incidents FROM patch_results WHERE run_id = ? ORDER BY y, x", runID)
	return rows, err
}

// RunEvents returns the most recent limit events of a run, newest first.
func (db *DB) RunEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
