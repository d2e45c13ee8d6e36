package api

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/sgp4d/internal/httputil"
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/passes"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/transform"
)

// Pass search defaults: one day sampled every 10 seconds.
const (
	defaultPassHorizon = 86400
	defaultPassStep    = 10
	defaultMaxPasses   = 10
)

type passesResponse struct {
	TaskID       string        `json:"task_id"`
	NORADID      int           `json:"norad_id"`
	Name         string        `json:"name"`
	Model        string        `json:"model"`
	Observer     observerInput `json:"observer"`
	Start        string        `json:"start"`
	End          string        `json:"end"`
	Step         float64       `json:"step"`
	MinElevation float64       `json:"min_elevation_deg"`
	Passes       []passes.Pass `json:"passes"`
}

// passSearch handles GET /api/v1/passes/{norad_id}?observer=lat,lon[,alt_m].
func (h *handlers) passSearch(w http.ResponseWriter, r *http.Request) {
	noradID, err := strconv.Atoi(r.PathValue("norad_id"))
	if err != nil || noradID <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid norad_id")
		return
	}

	q := r.URL.Query()
	if q.Get("observer") == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing observer parameter (lat,lon[,alt_m])")
		return
	}
	obs, err := parseObserver(q.Get("observer"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	minEl, err := floatParam(q, "min_elevation", 0)
	if err != nil || minEl < -90 || minEl >= 90 {
		httputil.WriteError(w, http.StatusBadRequest, "min_elevation must be in degrees between -90 and 90")
		return
	}
	maxPasses := defaultMaxPasses
	if v := q.Get("max_passes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "max_passes must be a positive integer")
			return
		}
		maxPasses = n
	}
	track := q.Get("ground_track") == "true"

	// Range parsing shares the propagate defaults except for horizon and step.
	rq := url.Values{}
	for k, v := range q {
		rq[k] = v
	}
	if rq.Get("end") == "" && rq.Get("horizon") == "" {
		rq.Set("horizon", strconv.Itoa(defaultPassHorizon))
	}
	if rq.Get("step") == "" {
		rq.Set("step", strconv.Itoa(defaultPassStep))
	}
	rng, err := httputil.RangeFromQuery(rq, time.Now(), 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rng.Step <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "step must be positive for a pass search")
		return
	}

	entry, ok := h.store.Lookup(noradID)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", noradID))
		return
	}

	opts := options{}
	req, err := h.buildRequest([]propagation.Satellite{entry.Satellite()}, q.Get("model"), q.Get("engine"), "", rng, &opts)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}

	taskID, out, ok := h.execute(w, r, req)
	if !ok {
		return
	}

	var row []orbit.StateVector
	if len(out.States) > 0 {
		row = make([]orbit.StateVector, len(out.States[0]))
		for i, sv := range out.States[0] {
			row[i] = transform.ToECEF(sv)
		}
	}

	popts := passes.Options{MinElevation: minEl, MaxPasses: maxPasses}
	if track {
		popts.TrackEvery = max(1, int(math.Round(60/rng.Step)))
	}
	found := passes.Find(obs, row, popts)
	if found == nil {
		found = []passes.Pass{}
	}

	httputil.WriteJSON(w, http.StatusOK, passesResponse{
		TaskID:  taskID,
		NORADID: entry.NORADID,
		Name:    entry.Name,
		Model:   out.Model,
		Observer: observerInput{
			Lat:  obs.LatRad * 180 / math.Pi,
			Lon:  obs.LonRad * 180 / math.Pi,
			AltM: obs.AltKm * 1000,
		},
		Start:        orbit.FormatUTC(rng.Start),
		End:          orbit.FormatUTC(rng.End),
		Step:         rng.Step,
		MinElevation: minEl,
		Passes:       found,
	})
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}
