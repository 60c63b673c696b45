package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

// SystemConfig holds the local-node health thresholds
type SystemConfig struct {
	EntityID          string
	EntityName        string
	CPUDegradedPct    float64
	CPUOutagePct      float64
	MemoryDegradedPct float64
	MemoryOutagePct   float64
}

// System observes the local node's CPU and memory pressure and feeds
// it through the same emitter path as external sources, so a starving
// collector host shows up on the dashboard like any other entity.
type System struct {
	logger     *zap.Logger
	config     SystemConfig
	entityType string
}

// NewSystem creates a local-node health collector
func NewSystem(logger *zap.Logger, entityType string, config SystemConfig) *System {
	if config.EntityID == "" {
		config.EntityID = "local-node"
	}
	if config.CPUDegradedPct <= 0 {
		config.CPUDegradedPct = 85.0
	}
	if config.CPUOutagePct <= 0 {
		config.CPUOutagePct = 97.0
	}
	if config.MemoryDegradedPct <= 0 {
		config.MemoryDegradedPct = 90.0
	}
	if config.MemoryOutagePct <= 0 {
		config.MemoryOutagePct = 98.0
	}
	return &System{logger: logger, config: config, entityType: entityType}
}

// Name implements ScalarCollector.Name
func (c *System) Name() string { return "system/" + c.config.EntityID }

// EntityType implements ScalarCollector.EntityType
func (c *System) EntityType() string { return c.entityType }

// Collect implements ScalarCollector.Collect
func (c *System) Collect(ctx context.Context) (model.Scalar, error) {
	obs := model.Scalar{
		EntityID:   c.config.EntityID,
		EntityName: c.config.EntityName,
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil || len(cpuPercent) == 0 {
		obs.Status = model.StatusUnknown
		obs.Detail = fmt.Sprintf("cpu probe failed: %v", err)
		return obs, nil
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		obs.Status = model.StatusUnknown
		obs.Detail = fmt.Sprintf("memory probe failed: %v", err)
		return obs, nil
	}

	switch {
	case cpuPercent[0] >= c.config.CPUOutagePct || memInfo.UsedPercent >= c.config.MemoryOutagePct:
		obs.Status = model.StatusOutage
	case cpuPercent[0] >= c.config.CPUDegradedPct || memInfo.UsedPercent >= c.config.MemoryDegradedPct:
		obs.Status = model.StatusDegraded
	default:
		obs.Status = model.StatusOperational
	}
	obs.Detail = fmt.Sprintf("cpu=%.1f%% mem=%.1f%%", cpuPercent[0], memInfo.UsedPercent)

	c.logger.Debug("System check complete",
		zap.Float64("cpu_pct", cpuPercent[0]),
		zap.Float64("mem_pct", memInfo.UsedPercent),
		zap.String("status", string(obs.Status)))

	return obs, nil
}
