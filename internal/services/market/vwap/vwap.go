// Package vwap tracks the session volume weighted average price and its
// standard deviation bands.
package vwap

import (
	"math"
	"sync"
	"time"

	"github.com/vadiminshakov/auction/internal/domain"
)

// Calculator accumulates prints for one session. Variance is updated
// incrementally (weighted Welford) so each print costs O(1).
type Calculator struct {
	mu     sync.Mutex
	weight float64
	mean   float64
	m2     float64
	last   time.Time
}

// NewCalculator creates an empty calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Add records a print. Non-positive volume is ignored.
func (c *Calculator) Add(price, volume float64, at time.Time) {
	if volume <= 0 || price <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.weight += volume
	delta := price - c.mean
	c.mean += delta * volume / c.weight
	c.m2 += volume * delta * (price - c.mean)
	if at.After(c.last) {
		c.last = at
	}
}

// AddBar records a bar at its typical price.
func (c *Calculator) AddBar(bar domain.Bar) {
	typical := (bar.High + bar.Low + bar.Close) / 3
	c.Add(typical, bar.Volume, bar.OpenTime)
}

// Snapshot returns VWAP with 1, 2 and 3 SD bands, nil before the first print.
func (c *Calculator) Snapshot() *domain.VWAPData {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.weight == 0 {
		return nil
	}

	sd := math.Sqrt(math.Max(c.m2/c.weight, 0))
	return &domain.VWAPData{
		VWAP:      c.mean,
		Upper1:    c.mean + sd,
		Lower1:    c.mean - sd,
		Upper2:    c.mean + 2*sd,
		Lower2:    c.mean - 2*sd,
		Upper3:    c.mean + 3*sd,
		Lower3:    c.mean - 3*sd,
		Timestamp: c.last,
	}
}

// Volume total session volume seen so far.
func (c *Calculator) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

// Reset starts a new session.
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weight, c.mean, c.m2 = 0, 0, 0
	c.last = time.Time{}
}
