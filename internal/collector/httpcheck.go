package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

// HTTPCheckConfig describes one direct HTTP health check
type HTTPCheckConfig struct {
	EntityID    string
	EntityName  string
	URL         string
	Timeout     time.Duration
	SlowLatency time.Duration
}

// HTTPCheck probes a service endpoint and maps the outcome onto a
// scalar status: transport error or timeout is an outage (an upstream
// timeout is itself a reportable signal), 5xx is an outage, 4xx is
// degraded, a slow 2xx is degraded.
type HTTPCheck struct {
	logger     *zap.Logger
	config     HTTPCheckConfig
	entityType string
	httpClient *http.Client
}

// NewHTTPCheck creates an HTTP check collector
func NewHTTPCheck(logger *zap.Logger, entityType string, config HTTPCheckConfig) *HTTPCheck {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.SlowLatency <= 0 {
		config.SlowLatency = 5 * time.Second
	}
	return &HTTPCheck{
		logger:     logger,
		config:     config,
		entityType: entityType,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name implements ScalarCollector.Name
func (c *HTTPCheck) Name() string { return "http-check/" + c.config.EntityID }

// EntityType implements ScalarCollector.EntityType
func (c *HTTPCheck) EntityType() string { return c.entityType }

// Collect implements ScalarCollector.Collect
func (c *HTTPCheck) Collect(ctx context.Context) (model.Scalar, error) {
	obs := model.Scalar{
		EntityID:   c.config.EntityID,
		EntityName: c.config.EntityName,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return obs, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "statuswatch/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obs.Status = model.StatusOutage
		obs.Detail = fmt.Sprintf("request failed: %v", err)
		return obs, nil
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	switch {
	case resp.StatusCode >= 500:
		obs.Status = model.StatusOutage
		obs.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		obs.Status = model.StatusDegraded
		obs.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	case latency > c.config.SlowLatency:
		obs.Status = model.StatusDegraded
		obs.Detail = fmt.Sprintf("slow response: %s", latency.Round(time.Millisecond))
	default:
		obs.Status = model.StatusOperational
	}

	c.logger.Debug("HTTP check complete",
		zap.String("entity_id", c.config.EntityID),
		zap.String("url", c.config.URL),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("latency", latency),
		zap.String("status", string(obs.Status)))

	return obs, nil
}
