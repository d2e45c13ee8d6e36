package stream

import "sync"

// Reasons reported when a stream is refused.
const (
	limitClient = "client_limit"
	limitGlobal = "global_limit"
)

// streamLimiter caps concurrent streams per client key and overall.
type streamLimiter struct {
	mu        sync.Mutex
	active    map[string]int
	total     int
	maxPerKey int
	maxTotal  int
}

func newStreamLimiter(maxPerKey, maxTotal int) *streamLimiter {
	return &streamLimiter{
		active:    make(map[string]int),
		maxPerKey: maxPerKey,
		maxTotal:  maxTotal,
	}
}

// admit reserves a slot for key. On success it returns a release func that is
// safe to call more than once; otherwise release is nil and reason names the
// exhausted limit.
func (l *streamLimiter) admit(key string) (release func(), reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return nil, limitGlobal
	case l.active[key] >= l.maxPerKey:
		return nil, limitClient
	}
	l.active[key]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.free(key) }) }, ""
}

func (l *streamLimiter) free(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.active[key]--; l.active[key] <= 0 {
		delete(l.active, key)
	}
}

// count returns the number of open streams for key.
func (l *streamLimiter) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[key]
}
