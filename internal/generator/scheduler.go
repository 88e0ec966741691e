package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"taxiifeed/internal/metrics"
)

// DefaultRetryDelay is the pause after a failed run before the schedule
// resumes.
const DefaultRetryDelay = 10 * time.Second

// Scheduler runs registered producers and stores what they produce.
type Scheduler struct {
	producers  []Producer
	store      Store
	logger     *zap.Logger
	interval   time.Duration
	retryDelay time.Duration
}

// NewScheduler creates a scheduler that runs every interval.
func NewScheduler(store Store, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:      store,
		logger:     logger,
		interval:   interval,
		retryDelay: DefaultRetryDelay,
	}
}

// Register adds a producer.
func (s *Scheduler) Register(p Producer) {
	s.producers = append(s.producers, p)
}

// RunOnce runs all producers concurrently and returns the paths written.
// Every producer runs even if another fails.
func (s *Scheduler) RunOnce(ctx context.Context) ([]string, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths []string
		errs  []error
	)
	for _, p := range s.producers {
		wg.Add(1)
		go func(producer Producer) {
			defer wg.Done()
			path, err := s.runProducer(ctx, producer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			paths = append(paths, path)
		}(p)
	}
	wg.Wait()
	return paths, errors.Join(errs...)
}

func (s *Scheduler) runProducer(ctx context.Context, p Producer) (string, error) {
	payload, err := p.Produce(ctx)
	if err != nil {
		metrics.ShardsGenerated.WithLabelValues("error").Inc()
		s.logger.Error("produce failed", zap.String("producer", p.Name()), zap.Error(err))
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}
	path, err := s.store.Save(ctx, payload)
	if err != nil {
		metrics.ShardsGenerated.WithLabelValues("error").Inc()
		s.logger.Error("store failed", zap.String("producer", p.Name()), zap.Error(err))
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}
	metrics.ShardsGenerated.WithLabelValues("ok").Inc()
	return path, nil
}

// Run optionally runs once immediately, then once per interval until ctx
// ends. A failed run is logged and followed by the retry delay.
func (s *Scheduler) Run(ctx context.Context, runOnStart bool) error {
	if runOnStart {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("initial generation failed", zap.Error(err))
		}
	}
	if s.interval <= 0 {
		return nil
	}
	for {
		if !sleep(ctx, s.interval) {
			return nil
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("generation failed", zap.Error(err), zap.Duration("retry_in", s.retryDelay))
			if !sleep(ctx, s.retryDelay) {
				return nil
			}
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
