// Package feed defines the time and price collaborators the option core
// depends on, together with the in-process implementations used by the
// daemon and by tests. The core snapshots both once per operation.
package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/optionledger/optiond/internal/core/amount"
)

var ErrNoPrice = errors.New("no price available")

// Clock supplies the current time and the discrete step counter used by the
// same-step exercise guard.
type Clock interface {
	Now() time.Time
	// CurrentStep is a monotonically increasing counter. Two observations
	// within the same step are treated as simultaneous by the registry.
	CurrentStep() uint64
}

// PriceOracle supplies the current settlement price, fixed-point with
// amount.PriceDecimals fractional digits.
type PriceOracle interface {
	CurrentPrice() (amount.Price, error)
}

// SystemClock is the wall clock. Steps advance once per second.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) CurrentStep() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is a controllable clock for tests and standalone mode. Time
// and step advance only when told to.
type ManualClock struct {
	mu      sync.RWMutex
	current time.Time
	step    uint64
}

// NewManualClock returns a clock set to January 1, 2024, 00:00:00 UTC.
func NewManualClock() *ManualClock {
	return &ManualClock{current: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func NewManualClockAt(t time.Time) *ManualClock {
	return &ManualClock{current: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *ManualClock) CurrentStep() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// Advance moves the clock forward without advancing the step counter.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Mine advances the step counter by n, like closing n blocks.
func (c *ManualClock) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step += n
}

// Set sets the clock to a specific time.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// StaticOracle returns a settable fixed price.
type StaticOracle struct {
	mu    sync.RWMutex
	price amount.Price
}

func NewStaticOracle(p amount.Price) *StaticOracle {
	return &StaticOracle{price: p}
}

func (o *StaticOracle) CurrentPrice() (amount.Price, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price <= 0 {
		return 0, ErrNoPrice
	}
	return o.price, nil
}

func (o *StaticOracle) SetPrice(p amount.Price) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = p
}
