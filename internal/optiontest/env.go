// Package optiontest provides a deterministic environment for exercising the
// option core in tests: a manual clock, a static oracle, a funded settlement
// book and pool, and a registry wired through the shared event bus.
package optiontest

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/optionledger/optiond/internal/core/access"
	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/fees"
	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/registry"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/events"
	"github.com/optionledger/optiond/internal/feed"
	"github.com/optionledger/optiond/internal/pool"
)

// Accounts used by the default environment.
const (
	Owner    token.AccountID = "owner"
	Registry token.AccountID = "registry"
	Admin    token.AccountID = "admin"
	Staking  token.AccountID = "staking"
	Trader   token.AccountID = "trader"
	Provider token.AccountID = "lp"
)

// Env is a fully wired option stack under test control.
type Env struct {
	Book   *token.Book
	Pool   *pool.LiquidityPool
	Clock  *feed.ManualClock
	Oracle *feed.StaticOracle
	Access *access.RoleSet
	Bus    *events.Bus
	Ledger *ledger.Ledger
	Reg    *registry.Registry

	// Expiry is the first slot epoch's expiration.
	Expiry time.Time
}

// Options tweak the environment; zero values take the defaults below.
type Options struct {
	Strike       amount.Price  // default 100 at 1e8 scale
	Price        amount.Price  // default 120 at 1e8 scale
	ExpiryPeriod time.Duration // default 24h
	Type         option.Type   // default call
	Liquidity    int64         // default 10_000_000
	TraderFunds  int64         // default 1_000_000
	Premium      int64         // fixed premium, default 1_000
}

// New builds an environment with the default options.
func New(t *testing.T) *Env {
	return NewWith(t, Options{})
}

// NewWith builds an environment with overrides applied.
func NewWith(t *testing.T, o Options) *Env {
	t.Helper()

	if o.Strike == 0 {
		o.Strike = 100_00000000
	}
	if o.Price == 0 {
		o.Price = 120_00000000
	}
	if o.ExpiryPeriod == 0 {
		o.ExpiryPeriod = 24 * time.Hour
	}
	if o.Type == option.TypeAll {
		o.Type = option.TypeCall
	}
	if o.Liquidity == 0 {
		o.Liquidity = 10_000_000
	}
	if o.TraderFunds == 0 {
		o.TraderFunds = 1_000_000
	}
	if o.Premium == 0 {
		o.Premium = 1_000
	}

	book := token.NewBook()
	require.NoError(t, book.Mint(Provider, amount.New(o.Liquidity)))
	require.NoError(t, book.Mint(Trader, amount.New(o.TraderFunds)))

	p := pool.NewLiquidityPool(book, "pool")
	require.NoError(t, p.Provide(Provider, amount.New(o.Liquidity)))

	clock := feed.NewManualClock()
	oracle := feed.NewStaticOracle(o.Price)
	acl := access.NewRoleSet(Owner)
	bus := events.NewBus()
	led := ledger.New(bus)

	engine, err := fees.NewEngine(
		fees.Params{SettlementFeePct: 5, StakingFeePct: 75, ReferralRewardPct: 25},
		fees.FixedPremium{P: amount.New(o.Premium)},
	)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	expiry := clock.Now().Add(o.ExpiryPeriod)
	reg, err := registry.New(registry.Config{
		Account:          Registry,
		Admin:            Admin,
		StakingRecipient: Staking,
		Strike:           o.Strike,
		Expiration:       expiry,
		OptionType:       o.Type,
	}, registry.Collaborators{
		Book:   book,
		Ledger: led,
		Fees:   engine,
		Pool:   p,
		Oracle: oracle,
		Clock:  clock,
		Access: acl,
		Bus:    bus,
		Log:    logrus.NewEntry(logger),
	})
	require.NoError(t, err)

	require.NoError(t, book.Approve(Trader, Registry, amount.New(o.TraderFunds)))

	return &Env{
		Book:   book,
		Pool:   p,
		Clock:  clock,
		Oracle: oracle,
		Access: acl,
		Bus:    bus,
		Ledger: led,
		Reg:    reg,
		Expiry: expiry,
	}
}

// Create issues an option for the trader and fails the test on error.
func (e *Env) Create(t *testing.T, amt int64) uint64 {
	t.Helper()
	id, err := e.Reg.Create(Trader, "", amount.New(amt), "", "")
	require.NoError(t, err)
	return id
}
