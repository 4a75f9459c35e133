package alarm

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// History keeps the last MAX_HISTORY RoutingResults and derives rolling
// per-channel success rate and average latency for status APIs.
type History struct {
	cache *lru.Cache[string, RoutingResult]

	mu        sync.Mutex
	perMethod map[string]*channelStats
}

type channelStats struct {
	attempts int
	successes int
	totalLatency int64 // nanoseconds
}

// NewHistory returns a History bounded to maxHistory entries.
func NewHistory(maxHistory int) *History {
	cache, _ := lru.New[string, RoutingResult](maxHistory)
	return &History{cache: cache, perMethod: make(map[string]*channelStats)}
}

// Record stores one RoutingResult and folds its per-channel outcomes into
// the rolling stats.
func (h *History) Record(result RoutingResult) {
	oldKey, old, hadOldest := h.cache.GetOldest()
	h.cache.Add(result.AlarmID, result)
	evicted := hadOldest && !h.cache.Contains(oldKey)

	h.mu.Lock()
	defer h.mu.Unlock()
	if evicted {
		for _, dr := range old.PerChannel {
			if st, ok := h.perMethod[string(dr.Method)]; ok {
				st.attempts--
				if dr.Success {
					st.successes--
				}
				st.totalLatency -= dr.Elapsed.Nanoseconds()
			}
		}
	}
	for _, dr := range result.PerChannel {
		key := string(dr.Method)
		st, ok := h.perMethod[key]
		if !ok {
			st = &channelStats{}
			h.perMethod[key] = st
		}
		st.attempts++
		if dr.Success {
			st.successes++
		}
		st.totalLatency += dr.Elapsed.Nanoseconds()
	}
}

// Recent returns every RoutingResult still held in history, oldest first and
// newest last.
func (h *History) Recent() []RoutingResult {
	keys := h.cache.Keys()
	out := make([]RoutingResult, 0, len(keys))
	for _, k := range keys {
		if v, ok := h.cache.Get(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// ChannelStats reports the rolling success rate and average latency for one
// delivery method, computed over whatever RoutingResults remain in history.
func (h *History) ChannelStats(method string) (successRate float64, avgLatencyNanos float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.perMethod[method]
	if !ok || st.attempts == 0 {
		return 0, 0
	}
	return float64(st.successes) / float64(st.attempts), float64(st.totalLatency) / float64(st.attempts)
}
