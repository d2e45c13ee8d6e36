package api

import (
	"net/http"
	"time"

	"github.com/star/sgp4d/internal/httputil"
	"github.com/star/sgp4d/internal/tle"
)

// TLEConfig holds TLE catalog settings.
type TLEConfig struct {
	EnableFetch     bool
	SourceURL       string
	ExtraSourceURLs []string
	CacheDir        string
	MaxFiles        int
}

type epochRangeJSON struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type tleMetadataResponse struct {
	Source     string         `json:"source"`
	FetchedAt  string         `json:"fetched_at"`
	AgeSeconds int            `json:"age_seconds"`
	Count      int            `json:"count"`
	EpochRange epochRangeJSON `json:"epoch_range"`
}

func metadata(ds *tle.Dataset) tleMetadataResponse {
	return tleMetadataResponse{
		Source:     ds.Source,
		FetchedAt:  ds.FetchedAt.UTC().Format(time.RFC3339),
		AgeSeconds: int(time.Since(ds.FetchedAt).Seconds()),
		Count:      len(ds.Satellites),
		EpochRange: epochRangeJSON{
			Min: ds.EpochRange.Min.UTC().Format(time.RFC3339),
			Max: ds.EpochRange.Max.UTC().Format(time.RFC3339),
		},
	}
}

// tleMetadata handles GET /api/v1/tle/metadata.
func (h *handlers) tleMetadata(w http.ResponseWriter, r *http.Request) {
	ds := h.store.Get()
	if ds == nil {
		httputil.WriteError(w, http.StatusNotFound, "no TLE data loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, metadata(ds))
}

// tleFetch handles POST /api/v1/tle/fetch.
func (h *handlers) tleFetch(w http.ResponseWriter, r *http.Request) {
	if !h.tleCfg.EnableFetch {
		httputil.WriteError(w, http.StatusForbidden, "TLE fetch is disabled")
		return
	}

	var cache *tle.Cache
	if h.tleCfg.CacheDir != "" {
		cache = h.tleCache
	}
	ds, err := tle.Refresh(r.Context(), h.fetcher, h.store, cache, h.logger)
	if err != nil {
		h.logger.Error("TLE fetch failed", "source", h.fetcher.SourceURL(), "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "TLE fetch failed: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, metadata(ds))
}
