package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

// StatuspageConfig describes one Statuspage-compatible incident feed
type StatuspageConfig struct {
	Source  string
	URL     string
	Timeout time.Duration
}

// Statuspage fetches unresolved incidents from a Statuspage v2
// incidents endpoint. Incidents carry native IDs, so identity never
// falls back to content hashing for this source.
type Statuspage struct {
	logger     *zap.Logger
	config     StatuspageConfig
	entityType string
	httpClient *http.Client
}

// NewStatuspage creates a Statuspage incident collector
func NewStatuspage(logger *zap.Logger, entityType string, config StatuspageConfig) *Statuspage {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Statuspage{
		logger:     logger,
		config:     config,
		entityType: entityType,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name implements IncidentCollector.Name
func (c *Statuspage) Name() string { return "statuspage/" + c.config.Source }

// EntityType implements IncidentCollector.EntityType
func (c *Statuspage) EntityType() string { return c.entityType }

type statuspageIncident struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Impact    string    `json:"impact"`
	CreatedAt time.Time `json:"created_at"`
}

// Collect implements IncidentCollector.Collect
func (c *Statuspage) Collect(ctx context.Context) ([]model.Incident, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "statuswatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body struct {
		Incidents []statuspageIncident `json:"incidents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode incidents: %w", err)
	}

	incidents := make([]model.Incident, 0, len(body.Incidents))
	for _, inc := range body.Incidents {
		if inc.Status == "resolved" || inc.Status == "completed" {
			continue
		}
		incidents = append(incidents, model.Incident{
			ID:        inc.ID,
			Title:     inc.Name,
			Severity:  statuspageSeverity(inc.Impact),
			StartTime: inc.CreatedAt,
			Detail:    inc.Status,
		})
	}

	c.logger.Debug("Statuspage fetch complete",
		zap.String("source", c.config.Source),
		zap.Int("open_incidents", len(incidents)))

	return incidents, nil
}

func statuspageSeverity(impact string) model.EventSeverity {
	switch impact {
	case "critical", "major":
		return model.EventSeverityCritical
	default:
		return model.EventSeverityWarning
	}
}
