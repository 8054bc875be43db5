package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/scrub-io/scrub/internal/logging"
)

// BacklogStatsProvider provides deletion-backlog statistics for metrics
// collection.
type BacklogStatsProvider interface {
	// CountUnverified returns the number of requests with
	// delete_verified_at unset.
	CountUnverified(ctx context.Context) (int, error)
}

// BacklogScanner periodically polls the request store and updates the
// unverified-backlog gauge.
type BacklogScanner struct {
	metrics  *PipelineMetrics
	provider BacklogStatsProvider
	logger   *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBacklogScanner creates a scanner that periodically updates the backlog
// gauge.
func NewBacklogScanner(m *PipelineMetrics, provider BacklogStatsProvider, logger *logging.Logger, interval time.Duration) *BacklogScanner {
	return &BacklogScanner{
		metrics:  m,
		provider: provider,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic backlog scanning.
func (s *BacklogScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic backlog scanning.
func (s *BacklogScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BacklogScanner) loop() {
	defer s.wg.Done()

	// Run immediately on start
	s.scanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *BacklogScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.provider.CountUnverified(ctx)
	if err != nil {
		s.logger.Warnf("backlog scan failed", map[string]any{"error": err.Error()})
		return
	}
	s.metrics.RecordUnverifiedBacklog(int64(count))
}

// ScanOnce triggers a single scan and updates the gauge.
// Useful for testing or on-demand scanning.
func (s *BacklogScanner) ScanOnce() {
	s.scanOnce()
}
