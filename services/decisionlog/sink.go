package decisionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/garvis/router/models"
	"github.com/garvis/router/repositories"
)

// Sink persists batches of decision records. Write is only ever called from the
// service's writer goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []*models.RouteDecision) error
	Close() error
}

// FileSink appends one JSON object per line to a file.
type FileSink struct {
	path string
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewFileSink opens path for appending, creating the file and its directory.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create decision log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	return &FileSink{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Name returns "file"
func (s *FileSink) Name() string { return "file" }

// Path returns the file being written
func (s *FileSink) Path() string { return s.path }

// Write appends the batch and flushes it.
func (s *FileSink) Write(_ context.Context, batch []*models.RouteDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("decision log %s is closed", s.path)
	}

	enc := json.NewEncoder(s.buf)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode decision %s: %w", d.ID, err)
		}
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("failed to write decision log: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// RepositorySink stores decisions through a DecisionRepository.
type RepositorySink struct {
	repo repositories.DecisionRepository
}

// NewRepositorySink wraps repo
func NewRepositorySink(repo repositories.DecisionRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Name returns "postgres"
func (s *RepositorySink) Name() string { return "postgres" }

// Write inserts the batch atomically
func (s *RepositorySink) Write(ctx context.Context, batch []*models.RouteDecision) error {
	return s.repo.InsertBatch(ctx, batch)
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *RepositorySink) Close() error { return nil }
