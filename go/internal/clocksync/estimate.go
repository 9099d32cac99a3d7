package clocksync

import (
	"errors"
	"sort"
	"time"
)

// ErrNoSamples is returned by Median for an empty sample set
var ErrNoSamples = errors.New("clocksync: no samples")

// Sample is the result of one PING/PONG round trip
type Sample struct {
	Offset time.Duration
	RTT    time.Duration
}

// NewSample computes a sample from the local send time t1, the server's
// clock reading and the local receive time t4.
func NewSample(t1, server, t4 time.Time) Sample {
	rtt := t4.Sub(t1)
	midpoint := t1.Add(rtt / 2)
	return Sample{Offset: server.Sub(midpoint), RTT: rtt}
}

// Estimate is the selected clock offset. Adding Offset to a local reading
// gives network time.
type Estimate struct {
	Offset  time.Duration
	RTT     time.Duration
	Samples int
}

// OffsetMs is the offset in whole milliseconds
func (e Estimate) OffsetMs() int64 { return e.Offset.Milliseconds() }

// RTTMs is the round-trip time in whole milliseconds
func (e Estimate) RTTMs() int64 { return e.RTT.Milliseconds() }

// Median sorts samples by round-trip time and returns the median sample.
// Sorting by rtt rather than offset keeps the offset and rtt of the chosen
// sample paired. For an even count the faster of the two middle samples wins.
func Median(samples []Sample) (Estimate, error) {
	if len(samples) == 0 {
		return Estimate{}, ErrNoSamples
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RTT < sorted[j].RTT
	})
	mid := sorted[(len(sorted)-1)/2]
	return Estimate{Offset: mid.Offset, RTT: mid.RTT, Samples: len(samples)}, nil
}
