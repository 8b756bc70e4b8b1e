package api

import (
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hotspot-sim/internal/engine"
	"github.com/talgya/hotspot-sim/internal/persistence"
)

type fixture struct {
	srv *Server
	eng *engine.Engine
	ts  *httptest.Server
}

func newFixture(t *testing.T, mutate func(*Server)) *fixture {
	t.Helper()
	sim, err := engine.New(engine.SmallTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.NewEngine(sim)
	srv := &Server{Eng: eng, AdminKey: "secret", RunID: "test-run"}
	if mutate != nil {
		mutate(srv)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, eng: eng, ts: ts}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) post(t *testing.T, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", resp.Request.URL.Path, err)
	}
	return v
}

func TestStatusAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.eng.Update(func(sim *engine.Simulation) error {
		for i := 0; i < 30; i++ {
			sim.Step()
		}
		return nil
	})

	status := decode[map[string]any](t, f.get(t, "/api/v1/status"))
	if status["tick"] != float64(30) || status["running"] != true || status["run_id"] != "test-run" {
		t.Fatalf("status = %v", status)
	}

	resp := f.get(t, "/api/v1/stats")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	st := decode[engine.Stats](t, resp)
	if st.Tick != 30 || st.Civilians != 120 || st.Officers != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAgentsFilter(t *testing.T) {
	f := newFixture(t, nil)
	all := decode[[]engine.AgentRecord](t, f.get(t, "/api/v1/agents"))
	if len(all) != 120 {
		t.Fatalf("%d agents, want 120", len(all))
	}
	offenders := decode[[]engine.AgentRecord](t, f.get(t, "/api/v1/agents?offender=true"))
	if len(offenders) == 0 || len(offenders) >= len(all) {
		t.Fatalf("%d offenders out of %d", len(offenders), len(all))
	}
	for _, rec := range offenders {
		if !rec.Offender {
			t.Fatalf("non-offender %d in filtered list", rec.ID)
		}
	}
	if resp := f.get(t, "/api/v1/agents?ethnicity=martian"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown ethnicity status %d", resp.StatusCode)
	}
}

func TestPatch(t *testing.T) {
	f := newFixture(t, nil)
	view := decode[engine.PatchView](t, f.get(t, "/api/v1/patch/0/0"))
	if view.Kind != "road" || view.Zone != 1 {
		t.Fatalf("patch (0,0) = %+v", view)
	}
	if resp := f.get(t, "/api/v1/patch/99/0"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("off-grid status %d", resp.StatusCode)
	}
	if resp := f.get(t, "/api/v1/patch/a/b"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad coordinate status %d", resp.StatusCode)
	}
}

func TestEventsAndHotspots(t *testing.T) {
	f := newFixture(t, nil)
	f.eng.Update(func(sim *engine.Simulation) error {
		for sim.Running() {
			sim.Step()
		}
		return nil
	})

	events := decode[[]engine.Event](t, f.get(t, "/api/v1/events?limit=5&category=robbery"))
	if len(events) == 0 || len(events) > 5 {
		t.Fatalf("%d robbery events", len(events))
	}
	for _, e := range events {
		if e.Category != engine.CategoryRobbery {
			t.Fatalf("category filter ignored: %+v", e)
		}
	}
	hot := decode[[]engine.PatchRecord](t, f.get(t, "/api/v1/hotspots"))
	if len(hot) == 0 {
		t.Fatal("no hotspots after robberies")
	}
	officers := decode[[]engine.OfficerRecord](t, f.get(t, "/api/v1/officers"))
	if len(officers) != 2 {
		t.Fatalf("%d officers", len(officers))
	}
}

func TestMapIsRateLimited(t *testing.T) {
	f := newFixture(t, func(s *Server) {
		s.MapRateLimit = &RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})
	resp := f.get(t, "/api/v1/map.png?cell=2")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("map status %d, type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 {
		t.Fatalf("map width %d, want 50", img.Bounds().Dx())
	}
	if resp := f.get(t, "/api/v1/map.png"); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second map status %d, want 429", resp.StatusCode)
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.post(t, "/api/v1/speed", "", `{"speed": 5}`); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/v1/speed", "wrong", `{"speed": 5}`); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/v1/speed", "secret", `{"speed": 5000}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range status %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/v1/speed", "secret", `{"speed": 5}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("speed status %d", resp.StatusCode)
	}
	if got := f.eng.Speed(); got != 5 {
		t.Fatalf("speed = %v, want 5", got)
	}

	open := newFixture(t, func(s *Server) { s.AdminKey = "" })
	if resp := open.post(t, "/api/v1/speed", "", `{"speed": 5}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disabled admin status %d", resp.StatusCode)
	}
}

func TestOfficerAssignment(t *testing.T) {
	f := newFixture(t, nil)
	var id uint64
	f.eng.View(func(sim *engine.Simulation) { id = uint64(sim.OfficerRecords()[0].ID) })
	path := "/api/v1/officers/" + strconv.FormatUint(id, 10) + "/assignment"

	if resp := f.post(t, path, "secret", `{"hotspot_patrol": false, "patrol_zone": 9}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad zone status %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/v1/officers/999999/assignment", "secret", `{"patrol_zone": 1}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown officer status %d", resp.StatusCode)
	}
	if resp := f.post(t, path, "secret", `{"hotspot_patrol": false, "patrol_zone": 3}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("assignment status %d", resp.StatusCode)
	}
	f.eng.View(func(sim *engine.Simulation) {
		o := sim.OfficerRecords()[0]
		if o.HotspotPatrol || o.PatrolZone != 3 {
			t.Errorf("officer after assignment = %+v", o)
		}
		if ev := sim.RecentEvents(1, engine.CategoryIntervention); len(ev) != 1 {
			t.Errorf("no intervention event recorded")
		}
	})
}

func TestSnapshotEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.snap.zst")
	f := newFixture(t, func(s *Server) { s.SnapshotPath = path })
	if resp := f.post(t, "/api/v1/snapshot", "secret", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status %d", resp.StatusCode)
	}
	hdr, st, err := persistence.ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.RunID != "test-run" || len(st.Civilians) != 120 {
		t.Fatalf("snapshot header %+v with %d civilians", hdr, len(st.Civilians))
	}

	none := newFixture(t, nil)
	if resp := none.post(t, "/api/v1/snapshot", "secret", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured snapshot status %d", resp.StatusCode)
	}
}

func TestRuns(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.get(t, "/api/v1/runs"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("runs without db status %d", resp.StatusCode)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	id, err := db.CreateRun(engine.SmallTestConfig(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SaveDaily(id, engine.Stats{Tick: 1440, Victimisations: 3}); err != nil {
		t.Fatal(err)
	}

	withDB := newFixture(t, func(s *Server) { s.DB = db })
	runs := decode[[]persistence.Run](t, withDB.get(t, "/api/v1/runs"))
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("runs = %+v", runs)
	}
	daily := decode[[]persistence.Daily](t, withDB.get(t, "/api/v1/runs/"+id+"/daily"))
	if len(daily) != 1 || daily[0].Victimisations != 3 {
		t.Fatalf("daily = %+v", daily)
	}
}

func TestStream(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello StreamMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "hello" || hello.Tick != 0 {
		t.Fatalf("hello = %+v", hello)
	}

	f.eng.View(f.srv.Publish)

	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "stats" {
		t.Fatalf("message = %+v, want stats", msg)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok || data["civilians"] != float64(120) {
		t.Fatalf("stats payload = %v", msg.Data)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.get(t, "/api/v1/status")
	f.eng.View(f.srv.Publish)

	body, err := io.ReadAll(f.get(t, "/metrics").Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"hotspot_http_requests_total", `route="/api/v1/status"`, "hotspot_sim_tick"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := clientIP(r); got != "10.0.0.7" {
		t.Fatalf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("clientIP with XFF = %q", got)
	}
}
