package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Housekeeper periodically advances time-based conditions and reloads rules.
type Housekeeper struct {
	engine         *Engine
	tickInterval   time.Duration
	reloadInterval time.Duration
	clock          Clock
	logger         *zap.Logger
}

// NewHousekeeper constructs a Housekeeper. A zero reload interval disables reloads.
func NewHousekeeper(engine *Engine, tickInterval, reloadInterval time.Duration, logger *zap.Logger) *Housekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{
		engine:         engine,
		tickInterval:   tickInterval,
		reloadInterval: reloadInterval,
		clock:          systemClock{},
		logger:         logger,
	}
}

// Run blocks until ctx is done.
func (h *Housekeeper) Run(ctx context.Context) {
	if h == nil || h.engine == nil || h.tickInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	var reload <-chan time.Time
	if h.reloadInterval > 0 {
		reloadTicker := time.NewTicker(h.reloadInterval)
		defer reloadTicker.Stop()
		reload = reloadTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.engine.Tick(h.clock.Now())
		case <-reload:
			if err := h.engine.ReloadRules(ctx); err != nil {
				h.logger.Warn("rule reload", zap.Error(err))
			}
		}
	}
}
