package api

import (
	"net/http"

	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/httputil"
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/propagation"
)

// poolStats handles GET /api/v1/pool/stats.
func (h *handlers) poolStats(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "execution pool not configured")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.pool.Stats())
}

// models handles GET /api/v1/models.
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	models := make(map[string]geophys.Constants, len(names))
	for _, name := range names {
		c, err := h.registry.Lookup(name)
		if err != nil {
			continue
		}
		models[name] = c
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"default": geophys.Default,
		"models":  models,
	})
}

type backendResponse struct {
	Name        string       `json:"name"`
	Width       int          `json:"width"`
	Description string       `json:"description"`
	Available   []string     `json:"available"`
	Stats       kernelCounts `json:"stats"`
}

type kernelCounts struct {
	Steps            uint64  `json:"steps"`
	LaneGroups       uint64  `json:"lane_groups"`
	LaneSatellites   uint64  `json:"lane_satellites"`
	ScalarSatellites uint64  `json:"scalar_satellites"`
	LaneRatio        float64 `json:"lane_ratio"`
}

// backend handles GET /api/v1/backend.
func (h *handlers) backend(w http.ResponseWriter, r *http.Request) {
	b := propagation.ActiveBackend()
	s := propagation.KernelStats()
	httputil.WriteJSON(w, http.StatusOK, backendResponse{
		Name:        b.Name,
		Width:       b.Width,
		Description: b.Description,
		Available:   propagation.BackendNames(),
		Stats: kernelCounts{
			Steps:            s.Steps,
			LaneGroups:       s.LaneGroups,
			LaneSatellites:   s.LaneSatellites,
			ScalarSatellites: s.ScalarSatellites,
			LaneRatio:        s.LaneRatio(),
		},
	})
}

type timeResponse struct {
	UTC string  `json:"utc"`
	ET  float64 `json:"et"`
}

// utcToET handles GET /api/v1/time/et?utc=...
func (h *handlers) utcToET(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("utc")
	if v == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing utc parameter")
		return
	}
	et, err := orbit.ParseUTC(v)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, timeResponse{UTC: orbit.FormatUTC(et), ET: et})
}

// etToUTC handles GET /api/v1/time/utc?et=...
func (h *handlers) etToUTC(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("et")
	if v == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing et parameter")
		return
	}
	et, err := orbit.ParseTime(v)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, timeResponse{UTC: orbit.FormatUTC(et), ET: et})
}
