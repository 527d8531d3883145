package feed

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/optionledger/optiond/internal/core/amount"
)

// CachedOracle memoizes the upstream price per clock step, so every
// observation inside one step sees the same quote even if the upstream feed
// moves. Recent steps are kept in an LRU cache.
type CachedOracle struct {
	upstream PriceOracle
	clock    Clock
	recent   *lru.Cache[uint64, amount.Price]
}

// NewCachedOracle wraps upstream with a per-step quote cache holding up to
// size steps. size must be positive.
func NewCachedOracle(upstream PriceOracle, clock Clock, size int) (*CachedOracle, error) {
	cache, err := lru.New[uint64, amount.Price](size)
	if err != nil {
		return nil, err
	}
	return &CachedOracle{upstream: upstream, clock: clock, recent: cache}, nil
}

func (o *CachedOracle) CurrentPrice() (amount.Price, error) {
	step := o.clock.CurrentStep()
	if p, ok := o.recent.Get(step); ok {
		return p, nil
	}
	p, err := o.upstream.CurrentPrice()
	if err != nil {
		return 0, err
	}
	o.recent.Add(step, p)
	return p, nil
}
