// Package backpressure implements the shared admission counter that bounds
// in-flight deliveries across all instances, with a hysteresis band so
// admission does not flap at the boundary.
package backpressure

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxDepth stops admission once reached.
	DefaultMaxDepth int64 = 10_000

	// DefaultResumeThreshold must be read before admission resumes.
	DefaultResumeThreshold int64 = 8_000
)

// CounterStore is the shared counter primitive. Implementations must expose
// only atomic operations; callers never read-modify-write.
type CounterStore interface {
	Increment(ctx context.Context) (int64, error)
	// Decrement returns the new depth, clamped at 0 even under races.
	Decrement(ctx context.Context) (int64, error)
	Depth(ctx context.Context) (int64, error)
	Set(ctx context.Context, depth int64) error
}

// Gate is the admission gate over the shared counter. The accepting flag is
// per-instance state, refreshed lazily from the counter on every check.
type Gate struct {
	store           CounterStore
	maxDepth        int64
	resumeThreshold int64
	logger          *zap.Logger

	mu        sync.Mutex
	accepting bool
}

func NewGate(store CounterStore, maxDepth, resumeThreshold int64, logger *zap.Logger) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if resumeThreshold <= 0 || resumeThreshold >= maxDepth {
		resumeThreshold = maxDepth * DefaultResumeThreshold / DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gate{
		store:           store,
		maxDepth:        maxDepth,
		resumeThreshold: resumeThreshold,
		logger:          logger,
		accepting:       true,
	}, nil
}

// Increment reserves one admission slot and returns the new depth.
func (g *Gate) Increment(ctx context.Context) (int64, error) {
	return g.store.Increment(ctx)
}

// Decrement releases one admission slot. The store clamps at zero, so an
// extra release never drives the counter negative.
func (g *Gate) Decrement(ctx context.Context) (int64, error) {
	return g.store.Decrement(ctx)
}

// IsAccepting reports whether new work may be admitted. Once depth reaches
// maxDepth, admission stays off until depth is read below resumeThreshold.
// A counter read failure denies admission: unbounded silent admission would
// defeat the backpressure guarantee.
func (g *Gate) IsAccepting(ctx context.Context) bool {
	depth, err := g.store.Depth(ctx)
	if err != nil {
		g.logger.Warn("admission counter read failed, denying admission", zap.Error(err))
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accepting {
		if depth >= g.maxDepth {
			g.accepting = false
			g.logger.Warn("admission stopped at high-water mark",
				zap.Int64("depth", depth),
				zap.Int64("maxDepth", g.maxDepth),
			)
		}
	} else if depth < g.resumeThreshold {
		g.accepting = true
		g.logger.Info("admission resumed below low-water mark",
			zap.Int64("depth", depth),
			zap.Int64("resumeThreshold", g.resumeThreshold),
		)
	}

	return g.accepting
}

// Reconcile overwrites the counter from the authoritative row count,
// correcting drift from crashes or races. Run at startup and periodically.
func (g *Gate) Reconcile(ctx context.Context, countActive func(ctx context.Context) (int64, error)) (int64, error) {
	if countActive == nil {
		return 0, fmt.Errorf("active count function is required")
	}

	depth, err := countActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count active deliveries: %w", err)
	}
	if depth < 0 {
		depth = 0
	}

	if err := g.store.Set(ctx, depth); err != nil {
		return 0, fmt.Errorf("failed to overwrite admission counter: %w", err)
	}

	return depth, nil
}
