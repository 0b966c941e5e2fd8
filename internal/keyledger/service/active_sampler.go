package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openkey-lms/keyledger/internal/keyledger/metrics"
)

// ActiveSampler periodically counts the Guest credentials that are
// effectively active and publishes the count as a gauge. It runs as a
// background goroutine and is stopped via its context or Stop.
//
// An interval of 0 disables sampling.
type ActiveSampler struct {
	ledger   *Ledger
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	last   int
	cancel context.CancelFunc
	done   chan struct{}
}

type SamplerConfig struct {
	// IntervalSeconds is how often the sampler runs. 0 disables it.
	IntervalSeconds int
}

// NewActiveSampler creates a sampler but does not start it.
func NewActiveSampler(l *Ledger, m *metrics.Metrics, cfg SamplerConfig, logger *slog.Logger) *ActiveSampler {
	if logger == nil {
		logger = l.logger
	}
	return &ActiveSampler{
		ledger:   l,
		metrics:  m,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs one sample immediately, then repeats on the interval until
// ctx is cancelled or Stop is called.
func (s *ActiveSampler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("active credential sampler disabled")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info("active credential sampler started", "interval", s.interval.String())
}

// Stop signals the sampler to exit and waits for it to finish. Safe to
// call more than once.
func (s *ActiveSampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Last returns the most recent sampled count.
func (s *ActiveSampler) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ActiveSampler) loop(ctx context.Context) {
	defer close(s.done)

	s.Sample(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample counts effectively-active Guest chains now and records the
// result.
func (s *ActiveSampler) Sample(ctx context.Context) {
	n, err := s.ledger.CountEffectivelyActive(ctx, s.ledger.Now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("active credential sample failed", "err", err)
		}
		return
	}
	s.mu.Lock()
	s.last = n
	s.mu.Unlock()
	s.metrics.SetActiveGuests(n)
}
