package reliable

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultDedupSize = 1024

type dedupKey struct {
	from string
	seq  uint64
}

// Deduper remembers recently applied (sender, seq) pairs and the reply that
// was sent for each, so a retried command can be answered again without being
// applied twice.
type Deduper struct {
	cache *lru.Cache[dedupKey, []byte]
}

// NewDeduper keeps up to size entries
func NewDeduper(size int) (*Deduper, error) {
	if size <= 0 {
		size = DefaultDedupSize
	}
	cache, err := lru.New[dedupKey, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Deduper{cache: cache}, nil
}

// Check reports whether (from, seq) was already applied and returns the
// reply recorded for it. Unsequenced messages are never duplicates.
func (d *Deduper) Check(from string, seq uint64) ([]byte, bool) {
	if seq == 0 {
		return nil, false
	}
	return d.cache.Get(dedupKey{from: from, seq: seq})
}

// Record stores the reply sent for (from, seq); reply may be nil
func (d *Deduper) Record(from string, seq uint64, reply []byte) {
	if seq == 0 {
		return
	}
	d.cache.Add(dedupKey{from: from, seq: seq}, reply)
}
