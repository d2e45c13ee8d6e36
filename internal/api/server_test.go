package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/star/sgp4d/internal/auth"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/tle"
)

const (
	issLine1 = "1 25544U 98067A   24015.50000000  .00016717  00000-0  10270-3 0  9026"
	issLine2 = "2 25544  51.6400 208.9163 0006703  30.0825 330.0579 15.49560830    10"
	issEpoch = 758592000.0

	iss2025Line1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	iss2025Line2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *tle.Store {
	t.Helper()
	entry, err := tle.ParseLines("ISS (ZARYA)", issLine1, issLine2)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	store := tle.NewStore()
	store.Set(tle.NewDataset("test", time.Now(), []tle.Entry{entry}))
	return store
}

func newPool(t *testing.T, factory pool.Factory) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{Size: 2}, factory, testLogger())
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("pool init: %v", err)
	}
	t.Cleanup(p.Shutdown)
	return p
}

type slowExecutor struct{}

func (slowExecutor) Execute(ctx context.Context, req propagation.Request) (propagation.Output, error) {
	<-ctx.Done()
	return propagation.Output{}, ctx.Err()
}

func testHandler(t *testing.T, p Pool, cfg Config) http.Handler {
	t.Helper()
	return newHandler(testLogger(), auth.Config{}, cfg, p, nil, testStore(t), TLEConfig{}, nil)
}

func do(h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, rd))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func radius(p [3]float64) float64 {
	return math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
}

func TestPropagateTLE(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	w := do(h, "POST", "/api/v1/propagate", map[string]any{
		"tle":   map[string]string{"name": "ISS", "line1": issLine1, "line2": issLine2},
		"start": issEpoch,
		"end":   "2024-01-15T12:02:00Z",
		"step":  60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp propagateResponse
	decode(t, w, &resp)

	if resp.Model != "wgs72" || resp.Engine != "batch" || resp.Frame != "teme" || resp.Points != 3 {
		t.Errorf("response header = %+v", resp)
	}
	if resp.TaskID == "" || resp.Backend == "" {
		t.Errorf("missing task id or backend: %+v", resp)
	}
	if len(resp.Satellites) != 1 {
		t.Fatalf("satellites = %d, want 1", len(resp.Satellites))
	}

	sat := resp.Satellites[0]
	if sat.NORADID != 25544 || sat.Name != "ISS" {
		t.Errorf("satellite = %d %q", sat.NORADID, sat.Name)
	}
	if sat.Derived == nil || sat.Derived.AltPerigee < 380 || sat.Derived.AltApogee > 460 {
		t.Errorf("derived = %+v", sat.Derived)
	}
	if len(sat.States) != 3 {
		t.Fatalf("states = %d, want 3", len(sat.States))
	}
	for i, st := range sat.States {
		if st.ET != issEpoch+60*float64(i) {
			t.Errorf("state %d et = %v", i, st.ET)
		}
		if r := radius(st.Position); r < 6400 || r > 6900 {
			t.Errorf("state %d radius = %.1f km", i, r)
		}
	}
	if sat.States[2].UTC != "2024-01-15T12:02:00.000Z" {
		t.Errorf("last utc = %q", sat.States[2].UTC)
	}
}

func TestPropagateDefaultsToEpoch(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	w := do(h, "POST", "/api/v1/propagate", map[string]any{
		"tle": map[string]string{"line1": issLine1, "line2": issLine2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp propagateResponse
	decode(t, w, &resp)
	if resp.Points != 1 || resp.Satellites[0].States[0].ET != issEpoch {
		t.Errorf("single-point default = %+v", resp.Satellites[0].States)
	}
}

func TestPropagateElementsBatch(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	elements := func(m float64) map[string]any {
		return map[string]any{
			"elements": map[string]any{
				"incl": 0.9, "raan": 1.0, "ecc": 0.001, "argp": 0.5, "m": m,
				"n": 15.5 * 2 * math.Pi / 1440, "epoch": issEpoch,
			},
		}
	}
	w := do(h, "POST", "/api/v1/propagate", map[string]any{
		"satellites": []any{elements(0), elements(1), elements(2)},
		"end":        issEpoch + 600,
		"step":       300,
		"model":      "wgs84",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp propagateResponse
	decode(t, w, &resp)
	if resp.Model != "wgs84" || resp.Points != 9 || len(resp.Satellites) != 3 {
		t.Fatalf("response = model %q points %d sats %d", resp.Model, resp.Points, len(resp.Satellites))
	}
	if resp.Satellites[0].States[0].Position == resp.Satellites[1].States[0].Position {
		t.Error("different mean anomalies produced identical positions")
	}
}

func TestPropagateReferenceEngine(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	w := do(h, "POST", "/api/v1/propagate", map[string]any{
		"tle":    map[string]string{"line1": issLine1, "line2": issLine2},
		"engine": "reference",
		"end":    issEpoch + 60,
		"step":   60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp propagateResponse
	decode(t, w, &resp)
	if resp.Engine != "reference" || len(resp.Satellites[0].States) != 2 {
		t.Errorf("reference response = %+v", resp)
	}
}

func TestPropagateValidation(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{MaxPoints: 100})
	tleBody := map[string]string{"line1": issLine1, "line2": issLine2}

	tests := []struct {
		name    string
		body    any
		wantMax bool
	}{
		{"missing input", map[string]any{"model": "wgs72"}, false},
		{"unknown model", map[string]any{"tle": tleBody, "model": "wgs66"}, false},
		{"too many points", map[string]any{"tle": tleBody, "end": issEpoch + 1000, "step": 1}, true},
		{"end before start", map[string]any{"tle": tleBody, "start": issEpoch, "end": issEpoch - 60}, false},
		{"negative step", map[string]any{"tle": tleBody, "step": -1}, false},
		{"bad frame", map[string]any{"tle": tleBody, "frame": "j2000"}, false},
		{"bad engine", map[string]any{"tle": tleBody, "engine": "gpu"}, false},
		{"bad checksum", map[string]any{"tle": map[string]string{"line1": issLine1[:68] + "7", "line2": issLine2}}, false},
		{"two inputs", map[string]any{"tle": tleBody, "elements": map[string]any{"n": 0.06, "epoch": 0}}, false},
		{"hyperbolic", map[string]any{"elements": map[string]any{"n": 0.06, "ecc": 1.2, "epoch": 0}}, false},
		{"elements without epoch", map[string]any{"elements": map[string]any{"n": 0.06}}, false},
		{"reference without lines", map[string]any{"elements": map[string]any{"n": 0.06, "epoch": 0}, "engine": "reference"}, false},
		{"mixed epochs", map[string]any{"satellites": []any{
			map[string]any{"tle": tleBody},
			map[string]any{"tle": map[string]string{"line1": iss2025Line1, "line2": iss2025Line2}},
		}}, false},
		{"unknown field", map[string]any{"tle": tleBody, "horizon": 60}, false},
		{"bad time", map[string]any{"tle": tleBody, "start": "next tuesday"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, "POST", "/api/v1/propagate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["error"] == nil {
				t.Error("expected error field in response")
			}
			if tt.wantMax && resp["max_positions"] == nil {
				t.Error("expected max_positions field in response")
			}
		})
	}
}

func TestPropagateCatalog(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{MaxPoints: 1000})

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"max budget exceeded: horizon=86400 step=1", "?horizon=86400&step=1", http.StatusBadRequest},
		{"within budget: default params", "", http.StatusOK},
		{"within budget: horizon=600 step=1", "?horizon=600&step=1", http.StatusOK},
		{"bad observer", "?observer=north", http.StatusBadRequest},
		{"observer out of range", "?observer=95,0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, "GET", "/api/v1/propagate/25544?start=758592000&"+strings.TrimPrefix(tt.query, "?"), nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	if w := do(h, "GET", "/api/v1/propagate/99999", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown satellite status = %d, want 404", w.Code)
	}
	if w := do(h, "GET", "/api/v1/propagate/iss", nil); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want 400", w.Code)
	}
}

func TestPropagateCatalogECEFAndObserver(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	teme := do(h, "GET", "/api/v1/propagate/25544?start=758592000&horizon=0", nil)
	ecef := do(h, "GET", "/api/v1/propagate/25544?start=758592000&horizon=0&frame=ecef&observer=51.5,-0.1,30&geodetic=true", nil)
	if teme.Code != http.StatusOK || ecef.Code != http.StatusOK {
		t.Fatalf("status = %d, %d", teme.Code, ecef.Code)
	}

	var rt, re propagateResponse
	decode(t, teme, &rt)
	decode(t, ecef, &re)

	st, se := rt.Satellites[0].States[0], re.Satellites[0].States[0]
	if re.Frame != "ecef" {
		t.Errorf("frame = %q", re.Frame)
	}
	if math.Abs(radius(st.Position)-radius(se.Position)) > 1e-6 {
		t.Errorf("rotation changed radius: %v vs %v", radius(st.Position), radius(se.Position))
	}
	if st.Position[2] != se.Position[2] {
		t.Errorf("rotation changed z")
	}
	if st.Look != nil || st.Subpoint != nil {
		t.Error("look/subpoint present without being requested")
	}
	if se.Look == nil || se.Look.RangeKm <= 0 {
		t.Errorf("look = %+v", se.Look)
	}
	if se.Subpoint == nil || se.Subpoint.AltKm < 350 || se.Subpoint.AltKm > 480 {
		t.Fatalf("subpoint = %+v", se.Subpoint)
	}
	if math.Abs(se.Subpoint.LatDeg) > 52 {
		t.Errorf("subpoint latitude %.2f exceeds inclination", se.Subpoint.LatDeg)
	}
}

func TestPropagateTimeout(t *testing.T) {
	p := newPool(t, func(int) (pool.Executor, error) { return slowExecutor{}, nil })
	h := testHandler(t, p, Config{TaskTimeout: 50 * time.Millisecond})

	w := do(h, "GET", "/api/v1/propagate/25544?start=758592000&horizon=0", nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504: %s", w.Code, w.Body.String())
	}

	// The abandoned task must not keep the unit busy forever.
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().PendingTasks != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("task still pending: %+v", p.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPropagateShuttingDown(t *testing.T) {
	p := newPool(t, nil)
	h := testHandler(t, p, Config{})
	p.Shutdown()

	w := do(h, "GET", "/api/v1/propagate/25544?start=758592000&horizon=0", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w := do(h, "GET", "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", w.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&pool.TaskError{TaskID: "x", Unit: -1, Err: pool.ErrShuttingDown}, http.StatusServiceUnavailable},
		{&pool.TaskError{TaskID: "x", Unit: 0, Err: pool.ErrUnitTerminated}, http.StatusServiceUnavailable},
		{&pool.TaskError{TaskID: "x", Unit: 0, Err: propagation.ErrMixedEpochs}, http.StatusBadRequest},
		{&pool.TaskError{TaskID: "x", Unit: 0, Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInfoEndpoints(t *testing.T) {
	p := newPool(t, nil)
	h := testHandler(t, p, Config{})

	w := do(h, "GET", "/api/v1/pool/stats", nil)
	var stats pool.Stats
	decode(t, w, &stats)
	if stats.PoolSize != 2 || stats.AvailableWorkers != 2 {
		t.Errorf("stats = %+v", stats)
	}

	w = do(h, "GET", "/api/v1/models", nil)
	var models struct {
		Default string                     `json:"default"`
		Models  map[string]json.RawMessage `json:"models"`
	}
	decode(t, w, &models)
	if models.Default != "wgs72" || models.Models["wgs84"] == nil {
		t.Errorf("models = %+v", models)
	}

	w = do(h, "GET", "/api/v1/backend", nil)
	var b backendResponse
	decode(t, w, &b)
	if b.Name != propagation.ActiveBackend().Name || b.Width < 1 || len(b.Available) == 0 {
		t.Errorf("backend = %+v", b)
	}

	if w := do(h, "GET", "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	w = do(h, "GET", "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/propagate") {
		t.Errorf("landing page = %d", w.Code)
	}
}

func TestTimeConversion(t *testing.T) {
	h := testHandler(t, nil, Config{})

	tests := []struct {
		target string
		status int
		et     float64
		utc    string
	}{
		{"/api/v1/time/et?utc=2000-01-01T12:00:00Z", http.StatusOK, 0, "2000-01-01T12:00:00.000Z"},
		{"/api/v1/time/et?utc=2024-01-15%2012:00:00", http.StatusOK, issEpoch, "2024-01-15T12:00:00.000Z"},
		{"/api/v1/time/utc?et=758592000.25", http.StatusOK, 758592000.25, "2024-01-15T12:00:00.250Z"},
		{"/api/v1/time/et", http.StatusBadRequest, 0, ""},
		{"/api/v1/time/et?utc=garbage", http.StatusBadRequest, 0, ""},
		{"/api/v1/time/utc?et=abc", http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := do(h, "GET", tt.target, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp timeResponse
			decode(t, w, &resp)
			if resp.ET != tt.et || resp.UTC != tt.utc {
				t.Errorf("got %+v, want et=%v utc=%s", resp, tt.et, tt.utc)
			}
		})
	}
}

func TestTLEMetadataAndFetch(t *testing.T) {
	empty := newHandler(testLogger(), auth.Config{}, Config{}, nil, nil, tle.NewStore(), TLEConfig{}, nil)
	if w := do(empty, "GET", "/api/v1/tle/metadata", nil); w.Code != http.StatusNotFound {
		t.Errorf("metadata on empty store = %d, want 404", w.Code)
	}
	if w := do(empty, "POST", "/api/v1/tle/fetch", nil); w.Code != http.StatusForbidden {
		t.Errorf("fetch while disabled = %d, want 403", w.Code)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ISS (ZARYA)\n" + iss2025Line1 + "\n" + iss2025Line2 + "\n"))
	}))
	defer upstream.Close()

	store := tle.NewStore()
	authCfg := auth.Config{Enabled: true, Token: "s3cret"}
	h := newHandler(testLogger(), authCfg, Config{}, nil, nil, store, TLEConfig{
		EnableFetch: true,
		SourceURL:   upstream.URL,
		CacheDir:    t.TempDir(),
		MaxFiles:    2,
	}, nil)

	if w := do(h, "POST", "/api/v1/tle/fetch", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("fetch without token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/tle/fetch", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch = %d: %s", w.Code, w.Body.String())
	}

	w = do(h, "GET", "/api/v1/tle/metadata", nil)
	var meta tleMetadataResponse
	decode(t, w, &meta)
	if meta.Count != 1 || meta.Source != upstream.URL || !strings.HasPrefix(meta.EpochRange.Min, "2025-05-18") {
		t.Errorf("metadata = %+v", meta)
	}
	if _, ok := store.Lookup(25544); !ok {
		t.Error("fetched catalog not installed")
	}
}

func TestPassSearch(t *testing.T) {
	h := testHandler(t, newPool(t, nil), Config{})

	w := do(h, "GET", "/api/v1/passes/25544?start=758592000&observer=40,-75,10&ground_track=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp passesResponse
	decode(t, w, &resp)

	if resp.NORADID != 25544 || resp.Step != 10 || resp.Start != "2024-01-15T12:00:00.000Z" || resp.End != "2024-01-16T12:00:00.000Z" {
		t.Errorf("response header = %+v", resp)
	}
	if len(resp.Passes) == 0 {
		t.Fatal("no passes over a mid-latitude site in a day")
	}
	for i, p := range resp.Passes {
		if !(p.RiseET <= p.MaxET && p.MaxET <= p.SetET && p.RiseET < p.SetET) {
			t.Errorf("pass %d out of order: %+v", i, p)
		}
		if p.DurationSeconds > 20*60 || p.MaxElevation < 0 || p.MaxElevation > 90 {
			t.Errorf("pass %d = %.0fs, max %.1f°", i, p.DurationSeconds, p.MaxElevation)
		}
		if len(p.GroundTrack) == 0 {
			t.Errorf("pass %d has no ground track", i)
		}
		if i > 0 && p.RiseET <= resp.Passes[i-1].SetET {
			t.Errorf("pass %d overlaps the previous one", i)
		}
	}

	w = do(h, "GET", "/api/v1/passes/25544?start=758592000&observer=40,-75&max_passes=1&min_elevation=10", nil)
	decode(t, w, &resp)
	if len(resp.Passes) > 1 {
		t.Errorf("max_passes ignored: %d passes", len(resp.Passes))
	}
	for _, p := range resp.Passes {
		if p.MaxElevation < 10 {
			t.Errorf("pass below mask: %.1f°", p.MaxElevation)
		}
	}

	bad := []string{
		"/api/v1/passes/25544",
		"/api/v1/passes/25544?observer=40,-75&min_elevation=95",
		"/api/v1/passes/25544?observer=40,-75&max_passes=0",
		"/api/v1/passes/25544?observer=40,-75&step=0",
	}
	for _, target := range bad {
		if w := do(h, "GET", target, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
	if w := do(h, "GET", "/api/v1/passes/99999?observer=40,-75", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown satellite = %d, want 404", w.Code)
	}
}
