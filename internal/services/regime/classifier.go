// Package regime turns cumulative order-flow delta into a directional or rotational state.
package regime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	// DefaultThreshold delta level separating directional from rotational flow.
	DefaultThreshold = 50.0
	// HysteresisBuffer extra delta required to enter a directional state.
	HysteresisBuffer = 10.0
)

// Next returns the state following prev for the given cumulative delta.
// Entering a directional state needs threshold+buffer; staying needs only the bare threshold.
// A flip between bullish and bearish always passes through ROTATIONAL first.
func Next(prev domain.RegimeState, delta, threshold float64) domain.RegimeState {
	enter := threshold + HysteresisBuffer

	switch {
	case delta > enter && prev != domain.RegimeDirectionalBearish:
		return domain.RegimeDirectionalBullish
	case delta < -enter && prev != domain.RegimeDirectionalBullish:
		return domain.RegimeDirectionalBearish
	case prev == domain.RegimeDirectionalBullish && delta > threshold:
		return domain.RegimeDirectionalBullish
	case prev == domain.RegimeDirectionalBearish && delta < -threshold:
		return domain.RegimeDirectionalBearish
	default:
		return domain.RegimeRotational
	}
}

// Classifier keeps the last state so callers only feed deltas.
type Classifier struct {
	mu        sync.Mutex
	logger    *zap.Logger
	threshold float64
	state     domain.RegimeState
}

// NewClassifier creates a classifier starting in ROTATIONAL. Non-positive threshold uses DefaultThreshold.
func NewClassifier(logger *zap.Logger, threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{
		logger:    logger,
		threshold: threshold,
		state:     domain.RegimeRotational,
	}
}

// Update applies delta and returns the new state.
func (c *Classifier) Update(delta float64) domain.RegimeState {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := Next(c.state, delta, c.threshold)
	if next != c.state {
		c.logger.Info("regime changed",
			zap.String("from", string(c.state)),
			zap.String("to", string(next)),
			zap.Float64("delta", delta))
	}
	c.state = next
	return next
}

// State returns the current state.
func (c *Classifier) State() domain.RegimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns the classifier to ROTATIONAL for a new session.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.state = domain.RegimeRotational
	c.mu.Unlock()
}
