package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/talgya/hotspot-sim/internal/engine"
)

// Label values are bounded: no per-agent or per-patch labels.
var (
	simTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_sim_tick",
		Help: "Completed simulation ticks",
	})

	simVictimisations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_sim_victimisations",
		Help: "Robberies committed so far in the run",
	})

	simStopSearches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspot_sim_stop_searches",
		Help: "Stop-and-searches carried out so far, by suspect ethnicity",
	}, []string{"ethnicity"})

	simHotspots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_sim_hotspot_patches",
		Help: "Road patches with at least one recorded incident",
	})

	simOfficersAtScene = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_sim_officers_at_scene",
		Help: "Hotspot officers currently dwelling at a scene",
	})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_http_requests_total",
		Help: "HTTP requests by route pattern and status",
	}, []string{"method", "route", "status"})

	requestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_http_requests_rejected_total",
		Help: "Requests rejected before reaching a handler",
	}, []string{"reason"}) // "rate_limit", "auth", "ws_limit"

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_websocket_connections",
		Help: "Open stream connections",
	})
)

// recordStats copies a stats snapshot into the gauges.
func recordStats(st engine.Stats) {
	simTick.Set(float64(st.Tick))
	simVictimisations.Set(float64(st.Victimisations))
	for e, n := range st.StopsByEthnicity {
		simStopSearches.WithLabelValues(e.String()).Set(float64(n))
	}
	simHotspots.Set(float64(st.HotspotCount))
	simOfficersAtScene.Set(float64(st.OfficersAtScene))
}
