package health

import (
	"context"
	"time"

	"github.com/garvis/router/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const componentOK = "ok"

// Prober checks the liveness of a single endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint *models.Endpoint) models.EndpointProbe
}

// Metrics receives probe results
type Metrics interface {
	ObserveProbe(p models.EndpointProbe)
}

// Component is an in-process dependency reported alongside the endpoints.
type Component struct {
	Name  string
	Check func(ctx context.Context) error
}

// Aggregator fans liveness probes out to every endpoint. It holds no state
// between calls; every Probe is a fresh snapshot.
type Aggregator struct {
	endpoints  []*models.Endpoint
	prober     Prober
	components []Component
	deadline   time.Duration
	logger     *zap.Logger
	metrics    Metrics
}

// NewAggregator creates an aggregator over endpoints. deadline bounds a whole
// Probe call; per-endpoint timeouts belong to the prober. metrics may be nil.
func NewAggregator(endpoints []*models.Endpoint, prober Prober, deadline time.Duration, logger *zap.Logger, metrics Metrics, components ...Component) *Aggregator {
	return &Aggregator{
		endpoints:  endpoints,
		prober:     prober,
		components: components,
		deadline:   deadline,
		logger:     logger,
		metrics:    metrics,
	}
}

// Probe checks every endpoint concurrently and every component, then reports.
// It never returns an error: failures are recorded per endpoint.
func (a *Aggregator) Probe(ctx context.Context) models.HealthSnapshot {
	if a.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deadline)
		defer cancel()
	}

	results := make([]models.EndpointProbe, len(a.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range a.endpoints {
		g.Go(func() error {
			results[i] = a.probeOne(gctx, ep)
			return nil
		})
	}

	components := make(map[string]string, len(a.components))
	for _, c := range a.components {
		components[c.Name] = runCheck(ctx, c)
	}

	_ = g.Wait()

	snapshot := models.HealthSnapshot{
		Endpoints:  make(map[string]models.EndpointProbe, len(results)),
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
	okCount := 0
	for _, p := range results {
		snapshot.Endpoints[p.EndpointID] = p
		if p.OK {
			okCount++
		}
		if a.metrics != nil {
			a.metrics.ObserveProbe(p)
		}
	}
	snapshot.AllOK = len(results) > 0 && okCount == len(results)
	snapshot.AnyOK = okCount > 0
	snapshot.Status = models.HealthOK
	if !snapshot.AllOK {
		snapshot.Status = models.HealthDegraded
		a.logger.Warn("endpoints down",
			zap.Strings("down", snapshot.Down()),
			zap.Int("ok", okCount),
			zap.Int("total", len(results)))
	}

	return snapshot
}

func (a *Aggregator) probeOne(ctx context.Context, ep *models.Endpoint) (probe models.EndpointProbe) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("endpoint probe panicked", zap.String("endpoint", ep.ID), zap.Any("panic", r))
			probe = models.EndpointProbe{EndpointID: ep.ID, BaseURL: ep.BaseURL, Error: "probe failed"}
		}
	}()
	return a.prober.Probe(ctx, ep)
}

func runCheck(ctx context.Context, c Component) (status string) {
	defer func() {
		if r := recover(); r != nil {
			status = "error: check panicked"
		}
	}()
	if err := c.Check(ctx); err != nil {
		return "error: " + err.Error()
	}
	return componentOK
}
