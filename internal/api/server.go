// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/engine"
	"github.com/talgya/hotspot-sim/internal/persistence"
	"github.com/talgya/hotspot-sim/internal/render"
	"github.com/talgya/hotspot-sim/internal/world"
)

// Server serves the simulation state over HTTP. All reads of the simulation
// go through Eng.View; admin changes go through Eng.Update.
type Server struct {
	Eng          *engine.Engine
	DB           *persistence.DB // Optional run store for /runs
	RunID        string
	AdminKey     string   // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins  []string // Nil allows any origin
	SnapshotPath string   // Where POST /snapshot writes. Empty = disabled.
	MapRateLimit *RateLimitConfig

	initOnce      sync.Once
	router        *chi.Mux
	hub           *hub
	lastPublished uint64
	httpServer    *http.Server
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.CORSOrigins == nil {
			s.CORSOrigins = []string{"*"}
		}
		s.hub = newHub()
		s.router = s.routes()
	})
}

// Handler returns the API router. It starts no goroutines.
func (s *Server) Handler() http.Handler {
	s.init()
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	limit := DefaultMapRateLimit
	if s.MapRateLimit != nil {
		limit = *s.MapRateLimit
	}
	mapLimiter := NewRateLimiter(limit)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (GET, read-only).
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/agents", s.handleAgents)
		r.Get("/officers", s.handleOfficers)
		r.Get("/hotspots", s.handleHotspots)
		r.Get("/events", s.handleEvents)
		r.Get("/patch/{x}/{y}", s.handlePatch)
		r.With(mapLimiter.Middleware).Get("/map.png", s.handleMap)
		r.Get("/stream", s.handleStream)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}/daily", s.handleRunDaily)

		// Admin endpoints (POST, bearer token).
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/speed", s.handleSpeed)
			r.Post("/officers/{id}/assignment", s.handleAssignment)
			r.Post("/snapshot", s.handleSnapshot)
		})
	})
	return r
}

// Start begins serving on addr in a goroutine.
func (s *Server) Start(addr string) {
	s.init()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Publish pushes the latest stats and any new events to stream clients and
// refreshes the metrics. It must be called with the engine locked: from an
// engine callback, which holds the write lock, or inside View.
func (s *Server) Publish(sim *engine.Simulation) {
	s.init()
	st := sim.Stats()
	recordStats(st)
	for _, e := range sim.EventsSince(s.lastPublished) {
		s.hub.broadcast(StreamMessage{Type: "event", Tick: e.Tick, Data: e})
	}
	s.hub.broadcast(StreamMessage{Type: "stats", Tick: st.Tick, Data: st})
	s.lastPublished = sim.Tick()
}

// instrument counts requests by route pattern, never by raw path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		slog.Debug("http request", "method", r.Method, "route", route, "status", status, "duration", time.Since(start))
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			requestsRejected.WithLabelValues("auth").Inc()
			http.Error(w, "admin endpoints disabled (no HOTSPOT_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			requestsRejected.WithLabelValues("auth").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	s.Eng.View(func(sim *engine.Simulation) {
		cfg := sim.Config()
		status = map[string]any{
			"name":        "hotspot-sim",
			"run_id":      s.RunID,
			"seed":        cfg.Seed,
			"tick":        sim.Tick(),
			"sim_time":    engine.SimTime(sim.Tick()),
			"horizon":     sim.Horizon(),
			"running":     sim.Running(),
			"civilians":   cfg.Population.Civilians,
			"officers":    cfg.Population.Officers,
			"grid_width":  sim.Grid().Width,
			"grid_height": sim.Grid().Height,
		}
	})
	status["engine_active"] = s.Eng.Active()
	status["speed"] = s.Eng.Speed()
	status["stream_clients"] = s.hub.count()
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var st engine.Stats
	s.Eng.View(func(sim *engine.Simulation) { st = sim.Stats() })
	writeJSON(w, st)
}

// handleAgents lists civilian outcomes, optionally filtered with
// ?offender=true and ?ethnicity=name.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	onlyOffenders := q.Get("offender") == "true"
	var eth *agents.Ethnicity
	if name := q.Get("ethnicity"); name != "" {
		e, err := agents.ParseEthnicity(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		eth = &e
	}

	var records []engine.AgentRecord
	s.Eng.View(func(sim *engine.Simulation) { records = sim.AgentRecords() })

	result := make([]engine.AgentRecord, 0, len(records))
	for _, rec := range records {
		if onlyOffenders && !rec.Offender {
			continue
		}
		if eth != nil && rec.Ethnicity != *eth {
			continue
		}
		result = append(result, rec)
	}
	writeJSON(w, result)
}

func (s *Server) handleOfficers(w http.ResponseWriter, r *http.Request) {
	var records []engine.OfficerRecord
	s.Eng.View(func(sim *engine.Simulation) { records = sim.OfficerRecords() })
	writeJSON(w, records)
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	var hot []engine.PatchRecord
	s.Eng.View(func(sim *engine.Simulation) { hot = sim.Hotspots() })
	writeJSON(w, hot)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	category := r.URL.Query().Get("category")

	var events []engine.Event
	s.Eng.View(func(sim *engine.Simulation) { events = sim.RecentEvents(limit, category) })
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errX != nil || errY != nil {
		http.Error(w, "patch coordinates must be integers", http.StatusBadRequest)
		return
	}

	var (
		view engine.PatchView
		ok   bool
	)
	s.Eng.View(func(sim *engine.Simulation) { view, ok = sim.PatchView(world.Coord{X: x, Y: y}) })
	if !ok {
		http.Error(w, "patch not on the grid", http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	cell := render.DefaultCellPx
	if c := r.URL.Query().Get("cell"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 16 {
			http.Error(w, "cell must be 1-16", http.StatusBadRequest)
			return
		}
		cell = n
	}

	var (
		buf bytes.Buffer
		err error
	)
	s.Eng.View(func(sim *engine.Simulation) { err = render.PNG(&buf, sim, cell) })
	if err != nil {
		slog.Error("map render failed", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	runs, err := s.DB.RecentRuns(limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunDaily(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.DB.RunDaily(chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("daily query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []persistence.Daily{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "officer id must be an integer", http.StatusBadRequest)
		return
	}
	var req struct {
		HotspotPatrol bool `json:"hotspot_patrol"`
		PatrolZone    int  `json:"patrol_zone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	err = s.Eng.Update(func(sim *engine.Simulation) error {
		return sim.ReassignOfficer(agents.AgentID(id), req.HotspotPatrol, req.PatrolZone)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"officer":        id,
		"hotspot_patrol": req.HotspotPatrol,
		"patrol_zone":    req.PatrolZone,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.SnapshotPath == "" {
		http.Error(w, "snapshots not configured", http.StatusServiceUnavailable)
		return
	}

	var (
		st  *engine.State
		err error
	)
	s.Eng.View(func(sim *engine.Simulation) { st, err = sim.Export() })
	if err == nil {
		err = persistence.WriteSnapshot(s.SnapshotPath, s.RunID, st)
	}
	if err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    st.Tick,
		"path":    s.SnapshotPath,
		"message": "snapshot saved",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
