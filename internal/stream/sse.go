// Package stream serves propagation results for catalog satellites as
// Server-Sent Events. Clients connect via GET /api/v1/stream/propagate/{norad_id}
// and receive one message per state vector once the pool resolves the task.
//
// SSE message format:
//
//	data: {"type":"metadata","task_id":"...","norad_id":25544,"points":91,...}\n\n
//	data: {"type":"state","et":758592000,"t":"2024-01-15T12:00:00.000Z","p":[...],"v":[...]}\n\n
//	data: {"type":"done","count":91,"backend":"avx2","engine":"batch"}\n\n
//
// Failures are reported in-band as {"type":"error","error":"..."}. Keep-alive
// comments (:\n\n) are sent every KeepaliveInterval while the task is pending.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/httputil"
	"github.com/star/sgp4d/internal/metrics"
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/tle"
	"github.com/star/sgp4d/internal/transform"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TaskTimeout        time.Duration // Upper bound on waiting for the pool (default: 30s).
	MaxPoints          int           // Timestamps allowed per stream; 0 disables the check.
	TrustProxy         bool          // Use X-Forwarded-For for the per-IP limit.
}

// Submitter hands a request to the execution pool.
type Submitter interface {
	Submit(req propagation.Request) *pool.Future
}

// Handler manages SSE streaming connections.
type Handler struct {
	pool     Submitter
	store    *tle.Store
	registry *geophys.Registry
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler. A nil registry means the
// process-wide default.
func NewHandler(p Submitter, store *tle.Store, registry *geophys.Registry, config Config, logger *slog.Logger) *Handler {
	if registry == nil {
		registry = geophys.DefaultRegistry()
	}
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.MaxTotal <= 0 {
		config.MaxTotal = 1000
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 30 * time.Second
	}
	return &Handler{
		pool:     p,
		store:    store,
		registry: registry,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger.With("component", "stream"),
	}
}

// HandlePropagate serves the SSE state-vector stream for one catalog entry.
// GET /api/v1/stream/propagate/{norad_id}?start=&end=&horizon=&step=&frame=&model=&engine=
func (h *Handler) HandlePropagate(w http.ResponseWriter, r *http.Request) {
	noradID, err := strconv.Atoi(r.PathValue("norad_id"))
	if err != nil || noradID <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid norad_id")
		return
	}

	q := r.URL.Query()
	frame, err := transform.ParseFrame(q.Get("frame"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	model := q.Get("model")
	if model == "" {
		model = geophys.Default
	}
	if _, err := h.registry.Lookup(model); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := propagation.EngineKind(q.Get("engine"))
	if engine == "" {
		engine = propagation.EngineBatch
	}
	if engine != propagation.EngineBatch && engine != propagation.EngineReference {
		httputil.WriteError(w, http.StatusBadRequest, "engine must be batch or reference")
		return
	}

	rng, err := httputil.RangeFromQuery(q, time.Now(), h.config.MaxPoints)
	if errors.Is(err, httputil.ErrTooManyPoints) {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":         err.Error(),
			"max_positions": h.config.MaxPoints,
		})
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, ok := h.store.Lookup(noradID)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", noradID))
		return
	}
	if engine == propagation.EngineReference && entry.Line1 == "" {
		httputil.WriteError(w, http.StatusBadRequest, "reference engine needs TLE lines; entry came from OMM")
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	key := httputil.LimitKey(ip)
	release, reason := h.limiter.admit(key)
	if release == nil {
		metrics.RecordStreamError(reason)
		h.logger.Warn("stream refused",
			"remote_ip", ip,
			"limit", reason,
			"current_count", h.limiter.count(key),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.StreamClientConnected()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"norad_id", noradID,
		"points", rng.Steps(),
	)

	defer func() {
		release()
		metrics.StreamClientDisconnected()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection; the
	// client extends the deadline before every write.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, rc: rc, ip: ip, logger: h.logger}

	// Jittered retry interval (3-7s) keeps reconnecting clients from
	// arriving all at once after a restart.
	c.sendRetry(3000 + rand.Intn(4000))

	fut := h.pool.Submit(propagation.Request{
		Satellites: []propagation.Satellite{entry.Satellite()},
		Model:      model,
		Range:      rng,
		Engine:     engine,
	})

	meta := metadataMessage{
		Type:     "metadata",
		TaskID:   fut.ID(),
		NORADID:  entry.NORADID,
		Name:     entry.Name,
		Model:    model,
		Frame:    string(frame),
		Points:   rng.Steps(),
		TLEEpoch: entry.Epoch.UTC().Format(time.RFC3339),
	}
	if age := h.store.AgeSeconds(); age >= 0 {
		meta.TLEAge = int(age)
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.RecordStreamError("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		fut.Wait(canceled())
		return
	}

	out, err := h.await(r.Context(), c, fut)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		metrics.RecordStreamError("task_error")
		h.logger.Warn("stream task failed", "task_id", fut.ID(), "norad_id", noradID, "error", err)
		c.sendJSON(errorMessage{Type: "error", Error: errorText(err)})
		return
	}

	transform.Apply(frame, out.States)
	count := 0
	for _, row := range out.States {
		for _, sv := range row {
			msg := stateMessage{
				Type: "state",
				ET:   sv.ET,
				T:    orbit.FormatUTC(sv.ET),
				P:    sv.Position,
				V:    sv.Velocity,
			}
			if err := c.sendJSON(msg); err != nil {
				metrics.RecordStreamError("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			count++
		}
	}

	c.sendJSON(doneMessage{Type: "done", Count: count, Backend: out.Backend, Engine: string(out.Engine)})
}

// await waits for fut while sending keep-alives. The task is abandoned if the
// client leaves or TaskTimeout elapses.
func (h *Handler) await(parent context.Context, c *client, fut *pool.Future) (propagation.Output, error) {
	ctx, cancel := context.WithTimeout(parent, h.config.TaskTimeout)
	defer cancel()

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-fut.Done():
			return fut.Wait(ctx)
		case <-ctx.Done():
			return fut.Wait(ctx)
		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.RecordStreamError("send_error")
				fut.Wait(canceled())
				return propagation.Output{}, err
			}
		}
	}
}

func canceled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func errorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "propagation timed out"
	case errors.Is(err, pool.ErrShuttingDown), errors.Is(err, pool.ErrUnitTerminated):
		return "service is shutting down"
	}
	return err.Error()
}

// SSE message payload types.

type metadataMessage struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	NORADID  int    `json:"norad_id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Frame    string `json:"frame"`
	Points   int    `json:"points"`
	TLEEpoch string `json:"tle_epoch"`
	TLEAge   int    `json:"tle_age_seconds"`
}

type stateMessage struct {
	Type string     `json:"type"`
	ET   float64    `json:"et"`
	T    string     `json:"t"`
	P    [3]float64 `json:"p"`
	V    [3]float64 `json:"v"`
}

type doneMessage struct {
	Type    string `json:"type"`
	Count   int    `json:"count"`
	Backend string `json:"backend"`
	Engine  string `json:"engine"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
