package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
)

const (
	generatePath = "/api/generate"
	tagsPath     = "/api/tags"

	defaultTimeout      = 300 * time.Second
	defaultProbeTimeout = 4 * time.Second

	// maxBodyBytes bounds how much of a backend reply is buffered.
	maxBodyBytes = 32 << 20
	// maxErrorSnippet bounds how much of a bad reply ends up in error messages.
	maxErrorSnippet = 256
)

// Config holds backend client settings
type Config struct {
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Response is a successful backend reply, kept verbatim.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client talks to Ollama-compatible inference endpoints. It issues exactly one
// request per call and never retries.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a backend client. A nil httpClient gets a fresh one; timeouts
// are applied per call through the request context.
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaultProbeTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{config: config, httpClient: httpClient}
}

// Generate posts body to {endpoint}/api/generate.
//
// Unreachable endpoints, timeouts and 5xx replies are ErrBackendUnavailable; 4xx
// replies and 2xx replies that are not JSON are ErrBackendProtocol. If ctx ends
// first the call is abandoned with ErrRequestCancelled.
func (c *Client) Generate(ctx context.Context, endpoint *models.Endpoint, body []byte) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint.URL(generatePath), bytes.NewReader(body))
	if err != nil {
		return nil, services.WrapInternal("failed to build backend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(ctx, endpoint, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, services.ErrBackendUnavailable.Wrap(fmt.Errorf("%s returned %d: %s", endpoint.ID, resp.StatusCode, snippet(respBody))).
			WithDetail("endpoint", endpoint.ID).
			WithDetail("status_code", resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, services.ErrBackendProtocol.Wrap(fmt.Errorf("%s returned %d: %s", endpoint.ID, resp.StatusCode, snippet(respBody))).
			WithDetail("endpoint", endpoint.ID).
			WithDetail("status_code", resp.StatusCode)
	case !json.Valid(respBody):
		return nil, services.ErrBackendProtocol.Wrap(fmt.Errorf("%s returned a non-JSON body: %s", endpoint.ID, snippet(respBody))).
			WithDetail("endpoint", endpoint.ID).
			WithDetail("status_code", resp.StatusCode)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

// Probe checks liveness with GET {endpoint}/api/tags. Failures are reported in the
// result, never returned.
func (c *Client) Probe(ctx context.Context, endpoint *models.Endpoint) models.EndpointProbe {
	probe := models.EndpointProbe{EndpointID: endpoint.ID, BaseURL: endpoint.BaseURL}

	probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.URL(tagsPath), nil)
	if err != nil {
		probe.Error = err.Error()
		return probe
	}

	resp, err := c.httpClient.Do(req)
	probe.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		probe.Error = probeError(probeCtx, err)
		return probe
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	probe.StatusCode = resp.StatusCode
	probe.OK = resp.StatusCode == http.StatusOK
	if !probe.OK {
		probe.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return probe
}

// transportError classifies a failed round trip. ctx is the caller's context, so a
// cancellation there is the client's doing rather than the backend's.
func (c *Client) transportError(ctx context.Context, endpoint *models.Endpoint, err error) error {
	if ctx.Err() != nil {
		return services.ErrRequestCancelled.Wrap(ctx.Err()).
			WithDetail("endpoint", endpoint.ID)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.ErrBackendUnavailable.Wrap(fmt.Errorf("%s did not answer within %s", endpoint.ID, c.config.Timeout)).
			WithDetail("endpoint", endpoint.ID).
			WithDetail("timeout", c.config.Timeout.String())
	}
	return services.ErrBackendUnavailable.Wrap(err).
		WithDetail("endpoint", endpoint.ID)
}

func probeError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "probe timed out"
	}
	return err.Error()
}

func snippet(body []byte) string {
	if len(body) > maxErrorSnippet {
		return string(body[:maxErrorSnippet]) + "..."
	}
	return string(body)
}
