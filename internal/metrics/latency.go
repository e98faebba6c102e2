package metrics

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// DefaultReservoirSize bounds the samples kept for percentiles.
const DefaultReservoirSize = 4096

// sendBuckets are upper bounds in milliseconds; the last bucket is open.
var sendBuckets = []struct {
	bound float64
	label string
}{
	{10, "0-10ms"},
	{50, "10-50ms"},
	{200, "50-200ms"},
	{1000, "200ms-1s"},
}

// SendLatency summarizes send_transaction round trips.
// Percentiles come from a fixed-size reservoir (Vitter's Algorithm R),
// so memory stays bounded however many transactions are broadcast.
type SendLatency struct {
	mu sync.Mutex

	count int
	sum   float64
	min   float64
	max   float64

	reservoir []float64
	size      int
	buckets   []int
	rng       *rand.Rand
}

// NewSendLatency creates a collector keeping at most size samples.
// A non-positive size uses DefaultReservoirSize.
func NewSendLatency(size int) *SendLatency {
	if size <= 0 {
		size = DefaultReservoirSize
	}
	return &SendLatency{
		min:       math.MaxFloat64,
		reservoir: make([]float64, 0, min(size, 1024)),
		size:      size,
		buckets:   make([]int, len(sendBuckets)+1),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Observe records one round trip. Safe for concurrent use.
func (s *SendLatency) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += ms
	s.min = min(s.min, ms)
	s.max = max(s.max, ms)
	s.buckets[bucketIndex(ms)]++

	if len(s.reservoir) < s.size {
		s.reservoir = append(s.reservoir, ms)
		return
	}
	if j := s.rng.IntN(s.count); j < s.size {
		s.reservoir[j] = ms
	}
}

func bucketIndex(ms float64) int {
	for i, b := range sendBuckets {
		if ms < b.bound {
			return i
		}
	}
	return len(sendBuckets)
}

// Stats returns a summary, or nil before the first observation.
func (s *SendLatency) Stats() *types.LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	sorted := slices.Clone(s.reservoir)
	slices.Sort(sorted)

	stats := &types.LatencyStats{
		Count:   s.count,
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P90:     percentile(sorted, 0.90),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, 0, len(s.buckets)),
	}
	for i, n := range s.buckets {
		label := "1s+"
		if i < len(sendBuckets) {
			label = sendBuckets[i].label
		}
		stats.Buckets = append(stats.Buckets, types.LatencyBucket{Label: label, Count: n})
	}
	return stats
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}

// Count returns the number of observations.
func (s *SendLatency) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
