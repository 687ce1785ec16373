package decisionlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/garvis/router/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSink keeps every record it is given.
type recordingSink struct {
	mu      sync.Mutex
	records []*models.RouteDecision
	batches int
	closed  bool
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, batch []*models.RouteDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, batch...)
	s.batches++
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []*models.RouteDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.RouteDecision(nil), s.records...)
}

// blockingSink holds the writer inside Write until released.
type blockingSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockingSink) Write(ctx context.Context, batch []*models.RouteDecision) error {
	s.entered <- struct{}{}
	<-s.release
	return s.recordingSink.Write(ctx, batch)
}

func (s *blockingSink) unblock() { s.once.Do(func() { close(s.release) }) }

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) DecisionDropped()       { m.Called() }
func (m *MockMetrics) SinkFailed(sink string) { m.Called(sink) }

func decision(requestID string) *models.RouteDecision {
	return models.NewRouteDecision(requestID, models.SourceDefault, "default", "gar-router").
		WithTarget("llama3.2:3b", "cpu").
		WithOutcome(models.OutcomeSuccess, 10*time.Millisecond)
}

func TestService_StartStop(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService([]Sink{sink}, zap.NewNop(), nil, Config{BufferSize: 10})

	require.NoError(t, svc.Start())
	assert.True(t, svc.Running())
	assert.Error(t, svc.Start(), "second start must fail")

	require.NoError(t, svc.Stop(time.Second))
	assert.False(t, svc.Running())
	assert.True(t, sink.closed)

	assert.ErrorIs(t, svc.Stop(time.Second), ErrNotRunning)
}

func TestService_WritesEveryRecordInOrder(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService([]Sink{sink}, zap.NewNop(), nil, Config{BufferSize: 100, BatchSize: 8})
	require.NoError(t, svc.Start())

	ids := []string{}
	for i := 0; i < 50; i++ {
		d := decision("req")
		ids = append(ids, d.ID.String())
		require.True(t, svc.Enqueue(d))
	}

	require.NoError(t, svc.Stop(time.Second))

	got := sink.snapshot()
	require.Len(t, got, 50)
	for i, d := range got {
		assert.Equal(t, ids[i], d.ID.String())
	}
	assert.Equal(t, uint64(50), svc.GetStats().Written)
}

func TestService_DropsWhenFull(t *testing.T) {
	sink := newBlockingSink()
	t.Cleanup(sink.unblock)

	metrics := new(MockMetrics)
	metrics.On("DecisionDropped").Return().Once()

	svc := NewService([]Sink{sink}, zap.NewNop(), metrics, Config{BufferSize: 1, BatchSize: 1})
	require.NoError(t, svc.Start())

	require.True(t, svc.Enqueue(decision("first")))
	<-sink.entered // writer is now busy with the first record

	assert.True(t, svc.Enqueue(decision("second")), "fits in the queue")

	start := time.Now()
	assert.False(t, svc.Enqueue(decision("third")), "queue full")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "enqueue must not block")

	stats := svc.GetStats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.Pending)

	sink.unblock()
	require.NoError(t, svc.Stop(time.Second))

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].RequestID)
	assert.Equal(t, "second", got[1].RequestID)
	metrics.AssertExpectations(t)
}

func TestService_EnqueueWhenNotRunning(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("DecisionDropped").Return().Twice()

	svc := NewService(nil, zap.NewNop(), metrics, DefaultConfig())
	assert.False(t, svc.Enqueue(decision("before-start")))

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop(time.Second))
	assert.False(t, svc.Enqueue(decision("after-stop")))

	metrics.AssertExpectations(t)
}

func TestService_StopTimeout(t *testing.T) {
	sink := newBlockingSink()
	t.Cleanup(sink.unblock)

	svc := NewService([]Sink{sink}, zap.NewNop(), nil, Config{BufferSize: 4})
	require.NoError(t, svc.Start())
	require.True(t, svc.Enqueue(decision("stuck")))
	<-sink.entered

	err := svc.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.False(t, sink.closed, "sinks stay open while the writer is busy")
}

func TestService_SinkFailureIsIsolated(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}

	metrics := new(MockMetrics)
	metrics.On("SinkFailed", "recording").Return()

	svc := NewService([]Sink{failing, healthy}, zap.NewNop(), metrics, Config{BufferSize: 10})
	require.NoError(t, svc.Start())
	require.True(t, svc.Enqueue(decision("a")))
	require.NoError(t, svc.Stop(time.Second))

	assert.Len(t, healthy.snapshot(), 1)
	metrics.AssertCalled(t, "SinkFailed", "recording")
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "router.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())
	assert.Equal(t, path, sink.Path())

	first := decision("req-1")
	second := decision("req-2").WithError("backend_unavailable", "connection refused")
	require.NoError(t, sink.Write(context.Background(), []*models.RouteDecision{first, second}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second close is a no-op")

	assert.Error(t, sink.Write(context.Background(), []*models.RouteDecision{first}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "gar-router", lines[0]["alias"])
	assert.Equal(t, "cpu", lines[0]["endpoint"])
	assert.Equal(t, "success", lines[0]["outcome"])
	assert.NotContains(t, lines[0], "error_kind")
	assert.Equal(t, "backend_unavailable", lines[1]["error_kind"])
}

func TestFileSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), []*models.RouteDecision{decision("req")}))
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func TestService_ConcurrentEnqueueIntoFileSink(t *testing.T) {
	const writers, perWriter = 50, 100
	path := filepath.Join(t.TempDir(), "router.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	svc := NewService([]Sink{sink}, zap.NewNop(), nil, Config{BufferSize: writers * perWriter, BatchSize: 32})
	require.NoError(t, svc.Start())

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.True(t, svc.Enqueue(decision(fmt.Sprintf("req-%d-%d", w, i))))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, svc.Stop(5*time.Second))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	seen := make(map[string]bool, writers*perWriter)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line), "line %q", scanner.Text())
		requestID, _ := line["request_id"].(string)
		assert.False(t, seen[requestID], "duplicate record %s", requestID)
		seen[requestID] = true
	}
	require.NoError(t, scanner.Err())
	assert.Len(t, seen, writers*perWriter)

	stats := svc.GetStats()
	assert.Equal(t, uint64(0), stats.Dropped)
	assert.Equal(t, uint64(writers*perWriter), stats.Written)
}

func TestFileSink_ConcurrentWriters(t *testing.T) {
	const writers, batches = 20, 25
	path := filepath.Join(t.TempDir(), "router.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < batches; i++ {
				assert.NoError(t, sink.Write(context.Background(), []*models.RouteDecision{decision("a"), decision("b")}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, writers*batches*2, countLines(data))

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		assert.True(t, json.Valid(scanner.Bytes()), "line %q", scanner.Text())
	}
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

type MockDecisionRepository struct {
	mock.Mock
}

func (m *MockDecisionRepository) Insert(ctx context.Context, d *models.RouteDecision) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockDecisionRepository) InsertBatch(ctx context.Context, batch []*models.RouteDecision) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockDecisionRepository) CountByOutcome(ctx context.Context, since time.Time) (map[models.DecisionOutcome]int64, error) {
	args := m.Called(ctx, since)
	if counts := args.Get(0); counts != nil {
		return counts.(map[models.DecisionOutcome]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestRepositorySink(t *testing.T) {
	repo := new(MockDecisionRepository)
	batch := []*models.RouteDecision{decision("a"), decision("b")}
	repo.On("InsertBatch", mock.Anything, batch).Return(nil).Once()
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	sink := NewRepositorySink(repo)
	assert.Equal(t, "postgres", sink.Name())
	require.NoError(t, sink.Write(context.Background(), batch))
	assert.Error(t, sink.Write(context.Background(), batch[:1]))
	assert.NoError(t, sink.Close())

	repo.AssertExpectations(t)
}
