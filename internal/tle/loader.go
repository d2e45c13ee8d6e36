package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/sgp4d/internal/metrics"
)

// Refresh fetches, parses and installs a new catalog, then writes the raw
// data to cache. The store keeps its previous dataset on any failure.
func Refresh(ctx context.Context, f *Fetcher, store *Store, cache *Cache, logger *slog.Logger) (*Dataset, error) {
	store.Lock()
	defer store.Unlock()

	data, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid TLE entries from %s", f.SourceURL())
	}

	now := time.Now().UTC()
	ds := NewDataset(f.SourceURL(), now, entries)
	store.Set(ds)
	metrics.SetCatalogSize(len(entries))

	if cache != nil {
		if err := cache.Write(data, now); err != nil {
			logger.Warn("failed to write TLE cache", "error", err)
		}
	}

	logger.Info("TLE catalog refreshed", "count", len(entries), "source", f.SourceURL())
	return ds, nil
}

// LoadCached installs the newest cached catalog, if any.
func LoadCached(store *Store, cache *Cache, logger *slog.Logger) (*Dataset, error) {
	data, ts, err := cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cached TLE data has no valid entries")
	}

	ds := NewDataset("cache", ts, entries)
	store.Set(ds)
	metrics.SetCatalogSize(len(entries))
	return ds, nil
}
