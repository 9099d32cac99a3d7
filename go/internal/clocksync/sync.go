// Package clocksync estimates the offset between a node's local clock and the
// relay's clock from a short burst of PING/PONG round trips.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSyncFailed is returned when too few round trips succeed
var ErrSyncFailed = errors.New("clocksync: not enough samples")

// Config for Synchronizer
type Config struct {
	Samples        int           `yaml:"samples"`
	Spacing        time.Duration `yaml:"spacing"`
	Timeout        time.Duration `yaml:"timeout"`
	MinSamples     int           `yaml:"min_samples"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// DefaultConfig returns seven samples spaced 100ms apart
func DefaultConfig() Config {
	return Config{
		Samples:        7,
		Spacing:        100 * time.Millisecond,
		Timeout:        time.Second,
		MinSamples:     4,
		ResyncInterval: time.Minute,
	}
}

// Exchanger performs one round trip and returns the server clock reading
type Exchanger interface {
	Exchange(ctx context.Context) (time.Time, error)
}

// Synchronizer runs sync rounds and applies the result to a NetworkClock
type Synchronizer struct {
	cfg    Config
	ex     Exchanger
	clock  *NetworkClock
	logger zerolog.Logger

	// rounds never overlap
	roundMu sync.Mutex

	mu     sync.RWMutex
	last   Estimate
	synced bool
}

// NewSynchronizer creates a Synchronizer
func NewSynchronizer(ex Exchanger, clock *NetworkClock, cfg Config) *Synchronizer {
	return &Synchronizer{
		cfg:    cfg,
		ex:     ex,
		clock:  clock,
		logger: log.With().Str("component", "clocksync").Logger(),
	}
}

// Synchronize runs one round of sequential exchanges and updates the clock
// offset from the median sample.
func (s *Synchronizer) Synchronize(ctx context.Context) (Estimate, error) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	local := s.clock.Local()
	samples := make([]Sample, 0, s.cfg.Samples)
	for i := 0; i < s.cfg.Samples; i++ {
		if i > 0 && s.cfg.Spacing > 0 {
			timer := local.NewTimer(s.cfg.Spacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Estimate{}, ctx.Err()
			case <-timer.Chan():
			}
		}

		t1 := local.Now()
		server, err := s.ex.Exchange(ctx)
		t4 := local.Now()
		if err != nil {
			if ctx.Err() != nil {
				return Estimate{}, ctx.Err()
			}
			s.logger.Debug().Err(err).Int("sample", i).Msg("clock sample skipped")
			continue
		}
		samples = append(samples, NewSample(t1, server, t4))
	}

	if len(samples) < s.cfg.MinSamples || len(samples) == 0 {
		return Estimate{}, fmt.Errorf("%w: got %d of %d", ErrSyncFailed, len(samples), s.cfg.Samples)
	}

	est, err := Median(samples)
	if err != nil {
		return Estimate{}, err
	}
	s.clock.SetOffset(est.Offset)

	s.mu.Lock()
	s.last = est
	s.synced = true
	s.mu.Unlock()

	s.logger.Info().
		Int64("offset_ms", est.OffsetMs()).
		Int64("rtt_ms", est.RTTMs()).
		Int("samples", est.Samples).
		Msg("clock synchronized")
	return est, nil
}

// Last returns the most recent successful estimate
func (s *Synchronizer) Last() (Estimate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.synced
}

// Run re-synchronizes every ResyncInterval until ctx is done. A failed round
// keeps the previous offset.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.cfg.ResyncInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := s.clock.Local().NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := s.Synchronize(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("clock resync failed, keeping previous offset")
			}
		}
	}
}
