package tle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoCache is returned by LoadLatest when the directory holds no catalog.
var ErrNoCache = errors.New("no cached TLE catalog")

const (
	cachePrefix = "catalog_"
	cacheSuffix = ".tle"
)

// Cache keeps the most recent raw catalogs on disk, one file per fetch,
// named by fetch time.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache that stores files in dir and keeps at most maxFiles.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Write stores data under ts and prunes files beyond maxFiles.
// The file is written to a temp name first so readers never see a partial catalog.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	final := filepath.Join(c.dir, cachePrefix+strconv.FormatInt(ts.Unix(), 10)+cacheSuffix)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing cache file: %w", err)
	}

	return c.prune()
}

// LoadLatest returns the newest catalog and the time it was fetched.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.list()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNoCache
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

type cacheFile struct {
	name string
	ts   time.Time
}

// list returns cache files oldest first.
func (c *Cache) list() ([]cacheFile, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cacheFile
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(e.Name(), cachePrefix)
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, cacheSuffix)
		if !ok {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: e.Name(), ts: time.Unix(unix, 0).UTC()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ts.Before(files[j].ts) })
	return files, nil
}

func (c *Cache) prune() error {
	files, err := c.list()
	if err != nil {
		return err
	}
	for len(files) > c.maxFiles {
		if err := os.Remove(filepath.Join(c.dir, files[0].name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", files[0].name, err)
		}
		files = files[1:]
	}
	return nil
}
