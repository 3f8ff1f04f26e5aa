package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"lock-in/validator-node/internal/registry"
)

// HealthChecker refreshes State from the registry on a cron schedule.
type HealthChecker struct {
	mu       sync.Mutex
	cron     *cron.Cron
	registry registry.Registry
	state    *State
	timeout  time.Duration
	logger   *zap.Logger
	running  bool
}

// NewHealthChecker creates a checker. Schedules use the standard five-field
// syntax or descriptors such as "@every 30s".
func NewHealthChecker(reg registry.Registry, state *State, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		cron:     cron.New(),
		registry: reg,
		state:    state,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Check performs one refresh.
func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	info, err := h.registry.GetValidator(ctx, h.state.Address())
	if err != nil {
		h.state.SyncFailed(err)
		h.logger.Warn("Validator health check failed", zap.Error(err))
		return err
	}
	wasActive := h.state.Active()
	h.state.ApplyRegistry(*info)
	if wasActive != info.Active {
		h.logger.Info("Validator active flag changed",
			zap.Bool("active", info.Active),
			zap.Int("reputation", info.Reputation))
	}
	return nil
}

// Start schedules Check on schedule and runs it once immediately.
func (h *HealthChecker) Start(ctx context.Context, schedule string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("health checker already running")
	}
	if _, err := h.cron.AddFunc(schedule, func() { _ = h.Check(ctx) }); err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", schedule, err)
	}
	_ = h.Check(ctx)
	h.cron.Start()
	h.running = true
	return nil
}

// Stop stops the schedule and waits for a running check to finish.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	<-h.cron.Stop().Done()
	h.running = false
}
