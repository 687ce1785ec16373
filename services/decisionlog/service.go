package decisionlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garvis/router/models"
	"go.uber.org/zap"
)

// ErrNotRunning is returned by Start/Stop when called out of order.
var ErrNotRunning = errors.New("decision log is not running")

// Metrics receives decision log counters
type Metrics interface {
	DecisionDropped()
	SinkFailed(sink string)
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Capacity of the record queue
	BatchSize    int           // Max records handed to a sink at once
	WriteTimeout time.Duration // Per-batch sink deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		BatchSize:    64,
		WriteTimeout: 5 * time.Second,
	}
}

// Service serializes decision records to its sinks from a single writer
// goroutine. Enqueue never blocks: when the queue is full the record is dropped.
type Service struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics Metrics
	config  Config

	mu      sync.RWMutex
	queue   chan *models.RouteDecision
	running bool
	done    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewService creates a decision log writing to sinks. metrics may be nil.
func NewService(sinks []Sink, logger *zap.Logger, metrics Metrics, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Start launches the writer goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("decision log already started")
	}

	s.queue = make(chan *models.RouteDecision, s.config.BufferSize)
	s.done = make(chan struct{})
	s.running = true
	go s.writer(s.queue, s.done)

	s.logger.Info("started decision log",
		zap.Int("buffer_size", s.config.BufferSize),
		zap.Strings("sinks", s.sinkNames()))
	return nil
}

// Stop stops accepting records and waits up to timeout for the queue to drain.
// Sinks are closed only after a complete drain.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	pending := len(s.queue)
	close(s.queue)
	done := s.done
	s.mu.Unlock()

	s.logger.Info("stopping decision log", zap.Int("pending_records", pending))

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("decision log stop timeout after %v", timeout)
	}

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", sink.Name(), err))
		}
	}
	s.logger.Info("decision log stopped")
	return errors.Join(errs...)
}

// Enqueue queues a record without blocking. It reports false when the record was
// dropped, either because the queue is full or the service is not running.
func (s *Service) Enqueue(d *models.RouteDecision) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		s.drop(d, "decision log not running")
		return false
	}

	select {
	case s.queue <- d:
		return true
	default:
		s.drop(d, "decision log queue full, dropping record")
		return false
	}
}

// Running reports whether the writer accepts records
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats represents decision log statistics
type Stats struct {
	BufferSize int
	Pending    int
	Written    uint64
	Dropped    uint64
	Running    bool
}

// GetStats returns statistics about the decision log
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize: s.config.BufferSize,
		Pending:    len(s.queue),
		Written:    s.written.Load(),
		Dropped:    s.dropped.Load(),
		Running:    s.running,
	}
}

func (s *Service) drop(d *models.RouteDecision, reason string) {
	s.dropped.Add(1)
	s.metrics.DecisionDropped()
	s.logger.Warn(reason,
		zap.String("request_id", d.RequestID),
		zap.String("alias", d.Alias),
		zap.String("outcome", string(d.Outcome)))
}

func (s *Service) writer(queue <-chan *models.RouteDecision, done chan<- struct{}) {
	defer close(done)

	for d := range queue {
		batch := []*models.RouteDecision{d}
		closed := false
	drain:
		for len(batch) < s.config.BatchSize {
			select {
			case next, ok := <-queue:
				if !ok {
					closed = true
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		s.write(batch)
		if closed {
			return
		}
	}
}

func (s *Service) write(batch []*models.RouteDecision) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		err := sink.Write(ctx, batch)
		cancel()
		if err != nil {
			s.metrics.SinkFailed(sink.Name())
			s.logger.Error("failed to write decision records",
				zap.String("sink", sink.Name()),
				zap.Int("records", len(batch)),
				zap.Error(err))
		}
	}

	s.written.Add(uint64(len(batch)))
}

func (s *Service) sinkNames() []string {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	return names
}

type nopMetrics struct{}

func (nopMetrics) DecisionDropped()  {}
func (nopMetrics) SinkFailed(string) {}
