package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/httputil"
	"github.com/star/sgp4d/internal/metrics"
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/tle"
	"github.com/star/sgp4d/internal/transform"
)

// maxBodyBytes caps POST bodies.
const maxBodyBytes = 4 << 20

// timeValue accepts ET seconds as a JSON number or a UTC string.
type timeValue struct {
	et  float64
	set bool
}

func (t *timeValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		et, err := orbit.ParseTime(s)
		if err != nil {
			return err
		}
		t.et, t.set = et, true
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("time must be ET seconds or a UTC string")
	}
	t.et, t.set = f, true
	return nil
}

type tleInput struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// elementsInput carries elements already in propagator units.
type elementsInput struct {
	NDot  float64   `json:"ndot"`
	NDDot float64   `json:"nddot"`
	BStar float64   `json:"bstar"`
	Incl  float64   `json:"incl"`
	RAAN  float64   `json:"raan"`
	Ecc   float64   `json:"ecc"`
	ArgP  float64   `json:"argp"`
	M     float64   `json:"m"`
	N     float64   `json:"n"`
	Epoch timeValue `json:"epoch"`
}

type satelliteInput struct {
	NORADID  int             `json:"norad_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	TLE      *tleInput       `json:"tle,omitempty"`
	OMM      json.RawMessage `json:"omm,omitempty"`
	Elements *elementsInput  `json:"elements,omitempty"`
}

type observerInput struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	AltM float64 `json:"alt_m"`
}

// propagateRequest is the POST body. A single satellite may be given inline
// through the embedded fields, or several through Satellites.
type propagateRequest struct {
	satelliteInput
	Satellites []satelliteInput `json:"satellites"`
	Model      string           `json:"model"`
	Start      timeValue        `json:"start"`
	End        timeValue        `json:"end"`
	Step       float64          `json:"step"`
	Frame      string           `json:"frame"`
	Engine     string           `json:"engine"`
	Observer   *observerInput   `json:"observer"`
	Geodetic   bool             `json:"geodetic"`
}

// options are the output choices shared by both propagate endpoints.
type options struct {
	frame    transform.Frame
	observer *transform.Observer
	geodetic bool
}

type stateJSON struct {
	ET       float64               `json:"et"`
	UTC      string                `json:"utc"`
	Position [3]float64            `json:"position"`
	Velocity [3]float64            `json:"velocity"`
	Look     *transform.LookAngles `json:"look,omitempty"`
	Subpoint *transform.Geodetic   `json:"subpoint,omitempty"`
}

type derivedJSON struct {
	SemiMajorAxis float64 `json:"semi_major_axis_er"`
	AltApogee     float64 `json:"alt_apogee_km"`
	AltPerigee    float64 `json:"alt_perigee_km"`
}

type satelliteResult struct {
	NORADID int          `json:"norad_id,omitempty"`
	Name    string       `json:"name,omitempty"`
	Derived *derivedJSON `json:"derived,omitempty"`
	States  []stateJSON  `json:"states"`
}

type propagateResponse struct {
	TaskID     string            `json:"task_id"`
	Model      string            `json:"model"`
	Backend    string            `json:"backend"`
	Engine     string            `json:"engine"`
	Frame      string            `json:"frame"`
	Points     int               `json:"points"`
	Satellites []satelliteResult `json:"satellites"`
}

// badRequest marks validation failures found before submission.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// propagate handles POST /api/v1/propagate.
func (h *handlers) propagate(w http.ResponseWriter, r *http.Request) {
	var body propagateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	inputs := body.Satellites
	if body.TLE != nil || body.hasOMM() || body.Elements != nil {
		inputs = append([]satelliteInput{body.satelliteInput}, inputs...)
	}
	if len(inputs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "missing satellite input: provide tle, omm, elements or satellites")
		return
	}

	sats := make([]propagation.Satellite, len(inputs))
	for i, in := range inputs {
		s, err := in.satellite(h.logger)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("satellite %d: %v", i, err))
			return
		}
		sats[i] = s
	}

	rng := orbit.TimeRange{Start: sats[0].Elements.Epoch, Step: body.Step}
	if body.Start.set {
		rng.Start = body.Start.et
	}
	rng.End = rng.Start
	if body.End.set {
		rng.End = body.End.et
	}
	if math.IsNaN(rng.Step) || math.IsInf(rng.Step, 0) || rng.Step < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "step must be a non-negative number of seconds")
		return
	}

	opts := options{geodetic: body.Geodetic}
	if body.Observer != nil {
		obs := transform.NewObserver(body.Observer.Lat, body.Observer.Lon, body.Observer.AltM)
		opts.observer = &obs
	}

	req, err := h.buildRequest(sats, body.Model, body.Engine, body.Frame, rng, &opts)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	h.run(w, r, req, opts)
}

// propagateCatalog handles GET /api/v1/propagate/{norad_id}.
func (h *handlers) propagateCatalog(w http.ResponseWriter, r *http.Request) {
	noradID, err := strconv.Atoi(r.PathValue("norad_id"))
	if err != nil || noradID <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid norad_id")
		return
	}

	q := r.URL.Query()
	rng, err := httputil.RangeFromQuery(q, time.Now(), 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := options{geodetic: q.Get("geodetic") == "true"}
	if v := q.Get("observer"); v != "" {
		obs, err := parseObserver(v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.observer = &obs
	}

	entry, ok := h.store.Lookup(noradID)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", noradID))
		return
	}

	req, err := h.buildRequest([]propagation.Satellite{entry.Satellite()}, q.Get("model"), q.Get("engine"), q.Get("frame"), rng, &opts)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	h.run(w, r, req, opts)
}

// parseObserver reads "lat,lon" or "lat,lon,alt_m".
func parseObserver(s string) (transform.Observer, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return transform.Observer{}, fmt.Errorf("observer must be lat,lon[,alt_m]")
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return transform.Observer{}, fmt.Errorf("invalid observer component %q", p)
		}
		v[i] = f
	}
	if v[0] < -90 || v[0] > 90 || v[1] < -180 || v[1] > 360 {
		return transform.Observer{}, fmt.Errorf("observer latitude/longitude out of range")
	}
	return transform.NewObserver(v[0], v[1], v[2]), nil
}

func (in satelliteInput) hasOMM() bool {
	return len(in.OMM) > 0 && string(in.OMM) != "null"
}

func (in satelliteInput) satellite(logger *slog.Logger) (propagation.Satellite, error) {
	given := 0
	for _, set := range []bool{in.TLE != nil, in.hasOMM(), in.Elements != nil} {
		if set {
			given++
		}
	}
	if given != 1 {
		return propagation.Satellite{}, badRequestf("exactly one of tle, omm or elements is required")
	}

	var s propagation.Satellite
	switch {
	case in.TLE != nil:
		entry, err := tle.ParseLines(in.TLE.Name, in.TLE.Line1, in.TLE.Line2)
		if err != nil {
			return s, badRequestf("invalid tle: %v", err)
		}
		s = entry.Satellite()
	case in.hasOMM():
		data := []byte(in.OMM)
		if trimmed := strings.TrimSpace(string(data)); !strings.HasPrefix(trimmed, "[") {
			data = []byte("[" + trimmed + "]")
		}
		entries, err := tle.ParseOMM(data, logger)
		if err != nil {
			return s, badRequestf("invalid omm: %v", err)
		}
		if len(entries) != 1 {
			return s, badRequestf("omm must hold exactly one valid record")
		}
		s = entries[0].Satellite()
	default:
		e := in.Elements
		if !e.Epoch.set {
			return s, badRequestf("elements.epoch is required")
		}
		s.Elements = orbit.Elements{
			NDot: e.NDot, NDDot: e.NDDot, BStar: e.BStar,
			Incl: e.Incl, RAAN: e.RAAN, Ecc: e.Ecc, ArgP: e.ArgP, M: e.M, N: e.N,
			Epoch: e.Epoch.et,
		}
	}

	if in.NORADID != 0 {
		s.NORADID = in.NORADID
	}
	if in.Name != "" {
		s.Name = in.Name
	}
	if err := s.Elements.Validate(); err != nil {
		return s, badRequestf("%v", err)
	}
	return s, nil
}

// buildRequest validates everything that can be checked without a unit.
func (h *handlers) buildRequest(sats []propagation.Satellite, model, engine, frame string, rng orbit.TimeRange, opts *options) (propagation.Request, error) {
	if model == "" {
		model = geophys.Default
	}
	if _, err := h.registry.Lookup(model); err != nil {
		return propagation.Request{}, badRequestf("%v", err)
	}

	kind := propagation.EngineKind(engine)
	switch kind {
	case "":
		kind = propagation.EngineBatch
	case propagation.EngineBatch, propagation.EngineReference:
	default:
		return propagation.Request{}, badRequestf("engine must be batch or reference")
	}
	if kind == propagation.EngineReference {
		for i, s := range sats {
			if s.Line1 == "" || s.Line2 == "" {
				return propagation.Request{}, badRequestf("satellite %d: reference engine needs TLE lines", i)
			}
		}
	}

	f, err := transform.ParseFrame(frame)
	if err != nil {
		return propagation.Request{}, badRequestf("%v", err)
	}
	opts.frame = f

	maxSteps := h.cfg.MaxPoints / len(sats)
	if maxSteps < 1 {
		return propagation.Request{}, errTooManyPoints
	}
	if err := httputil.CheckRange(rng, maxSteps); err != nil {
		if errors.Is(err, httputil.ErrTooManyPoints) {
			return propagation.Request{}, errTooManyPoints
		}
		return propagation.Request{}, badRequestf("%v", err)
	}

	return propagation.Request{
		Satellites: sats,
		Model:      model,
		Range:      rng,
		Engine:     kind,
	}, nil
}

var errTooManyPoints = errors.New("requested positions exceed the per-request budget")

func (h *handlers) writeBuildError(w http.ResponseWriter, err error) {
	if errors.Is(err, errTooManyPoints) {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":         err.Error(),
			"max_positions": h.cfg.MaxPoints,
		})
		return
	}
	httputil.WriteError(w, http.StatusBadRequest, err.Error())
}

// run submits req, waits up to TaskTimeout and writes the response.
func (h *handlers) run(w http.ResponseWriter, r *http.Request, req propagation.Request, opts options) {
	taskID, out, ok := h.execute(w, r, req)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, buildResponse(taskID, req, out, opts))
}

// execute submits req and waits for its output. On failure the error
// response has already been written and ok is false.
func (h *handlers) execute(w http.ResponseWriter, r *http.Request, req propagation.Request) (taskID string, out propagation.Output, ok bool) {
	if h.pool == nil || !h.pool.Initialized() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "execution pool not ready")
		return "", out, false
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.TaskTimeout)
	defer cancel()

	fut := h.pool.Submit(req)
	out, err := fut.Wait(ctx)
	if err != nil {
		status, msg := errorStatus(err)
		h.logger.Warn("propagation failed",
			"task_id", fut.ID(),
			"status", status,
			"error", err,
		)
		httputil.WriteError(w, status, msg)
		return fut.ID(), out, false
	}

	points := req.Points()
	metrics.RecordPropagation(string(out.Engine), out.Backend, points, time.Since(start))
	if n := implausible(out.States); n > 0 {
		h.logger.Warn("implausible state vectors in output",
			"task_id", fut.ID(),
			"count", n,
			"points", points,
		)
	}
	return fut.ID(), out, true
}

// implausible counts states outside the physically reasonable radius band,
// which usually means a decayed or badly formed element set.
func implausible(states [][]orbit.StateVector) int {
	n := 0
	for _, row := range states {
		for _, sv := range row {
			if !transform.Plausible(sv) {
				n++
			}
		}
	}
	return n
}

func buildResponse(taskID string, req propagation.Request, out propagation.Output, opts options) propagateResponse {
	resp := propagateResponse{
		TaskID:     taskID,
		Model:      out.Model,
		Backend:    out.Backend,
		Engine:     string(out.Engine),
		Frame:      string(opts.frame),
		Points:     req.Points(),
		Satellites: make([]satelliteResult, len(out.States)),
	}

	needECEF := opts.observer != nil || opts.geodetic
	gmst := make(map[float64]float64)

	for i, row := range out.States {
		res := satelliteResult{States: make([]stateJSON, len(row))}
		if i < len(req.Satellites) {
			res.NORADID = req.Satellites[i].NORADID
			res.Name = req.Satellites[i].Name
		}
		if i < len(out.Derived) {
			d := out.Derived[i]
			res.Derived = &derivedJSON{SemiMajorAxis: d.SemiMajorAxis, AltApogee: d.AltApogee, AltPerigee: d.AltPerigee}
		}

		for j, sv := range row {
			var ecef orbit.StateVector
			if needECEF || opts.frame == transform.FrameECEF {
				g, ok := gmst[sv.ET]
				if !ok {
					g = transform.GMSTAt(sv.ET)
					gmst[sv.ET] = g
				}
				ecef = transform.RotateToECEF(sv, g)
			}

			view := sv
			if opts.frame == transform.FrameECEF {
				view = ecef
			}
			st := stateJSON{
				ET:       sv.ET,
				UTC:      orbit.FormatUTC(sv.ET),
				Position: view.Position,
				Velocity: view.Velocity,
			}
			if opts.observer != nil {
				la := opts.observer.Look(ecef)
				st.Look = &la
			}
			if opts.geodetic {
				g := transform.Subpoint(ecef)
				st.Subpoint = &g
			}
			res.States[j] = st
		}
		resp.Satellites[i] = res
	}
	return resp
}

// errorStatus maps a task failure to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var br *badRequest
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "propagation timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	case errors.Is(err, pool.ErrShuttingDown),
		errors.Is(err, pool.ErrNotInitialized),
		errors.Is(err, pool.ErrUnitTerminated):
		return http.StatusServiceUnavailable, "service unavailable: " + err.Error()
	case errors.As(err, &br),
		errors.Is(err, geophys.ErrUnknownModel),
		errors.Is(err, orbit.ErrInvalidElements),
		errors.Is(err, propagation.ErrMixedEpochs),
		errors.Is(err, propagation.ErrNoSatellites),
		errors.Is(err, propagation.ErrUnknownKind),
		errors.Is(err, propagation.ErrReferenceModel),
		errors.Is(err, batch.ErrInvalidCount):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
