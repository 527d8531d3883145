package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/optionledger/optiond/internal/core/access"
	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/fees"
	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/events"
	"github.com/optionledger/optiond/internal/feed"
	"github.com/optionledger/optiond/internal/pool"
)

type env struct {
	book   *token.Book
	pool   *pool.LiquidityPool
	clock  *feed.ManualClock
	oracle *feed.StaticOracle
	acl    *access.RoleSet
	led    *ledger.Ledger
	reg    *Registry
	expiry time.Time
}

// newEnv stands up a registry with a funded pool and trader, a manual clock
// at 2024-01-01 and a call option expiring 24h later at strike 100.
func newEnv(t *testing.T) *env {
	t.Helper()

	book := token.NewBook()
	require.NoError(t, book.Mint("lp", amount.New(10_000_000)))
	require.NoError(t, book.Mint("trader", amount.New(1_000_000)))

	p := pool.NewLiquidityPool(book, "pool")
	require.NoError(t, p.Provide("lp", amount.New(10_000_000)))

	clock := feed.NewManualClock()
	oracle := feed.NewStaticOracle(120_00000000)
	acl := access.NewRoleSet("owner")
	bus := events.NewBus()
	led := ledger.New(bus)

	engine, err := fees.NewEngine(
		fees.Params{SettlementFeePct: 5, StakingFeePct: 75, ReferralRewardPct: 25},
		fees.FixedPremium{P: amount.New(1_000)},
	)
	require.NoError(t, err)

	expiry := clock.Now().Add(24 * time.Hour)
	reg, err := New(Config{
		Account:          "registry",
		Admin:            "admin",
		StakingRecipient: "staking",
		Strike:           100_00000000,
		Expiration:       expiry,
		OptionType:       option.TypeCall,
	}, Collaborators{
		Book:   book,
		Ledger: led,
		Fees:   engine,
		Pool:   p,
		Oracle: oracle,
		Clock:  clock,
		Access: acl,
		Bus:    bus,
	})
	require.NoError(t, err)

	require.NoError(t, book.Approve("trader", "registry", amount.New(1_000_000)))
	return &env{book: book, pool: p, clock: clock, oracle: oracle, acl: acl, led: led, reg: reg, expiry: expiry}
}

func (e *env) create(t *testing.T, amt int64) uint64 {
	t.Helper()
	id, err := e.reg.Create("trader", "", amount.New(amt), "referrer", "")
	require.NoError(t, err)
	return id
}

func TestCreateDistributesFees(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)

	// settlement fee 5% = 50_000; staking 75% = 37_500; referral
	// floor(12_500 * 25 / 100) = 3_125; admin 9_375; premium 1_000.
	require.Equal(t, amount.New(37_500), e.book.BalanceOf("staking"))
	require.Equal(t, amount.New(3_125), e.book.BalanceOf("referrer"))
	require.Equal(t, amount.New(9_375), e.book.BalanceOf("admin"))
	require.Equal(t, amount.New(10_001_000), e.pool.TotalBalance())
	require.Equal(t, amount.New(1_000_000), e.pool.LockedBalance())

	t.Run("zero residual on the registry account", func(t *testing.T) {
		require.Equal(t, amount.New(0), e.book.BalanceOf("registry"))
	})

	pos, err := e.led.Get(id)
	require.NoError(t, err)
	require.Equal(t, token.AccountID("trader"), pos.Owner)
	require.Equal(t, option.MaxUnits, pos.Units)
	require.Equal(t, amount.New(1_000_000), pos.Amount)
	require.Equal(t, amount.New(1_000_000), pos.LockedAmount)
	require.Equal(t, amount.New(1_000), pos.Premium)
}

func TestCreateWithoutReferrerFoldsIntoAdmin(t *testing.T) {
	e := newEnv(t)
	_, err := e.reg.Create("trader", "", amount.New(1_000_000), token.Zero, "")
	require.NoError(t, err)
	require.Equal(t, amount.New(12_500), e.book.BalanceOf("admin"))
	require.Equal(t, amount.New(0), e.book.BalanceOf("registry"))
}

func TestCreateFailures(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		e := newEnv(t)
		empty, err := New(Config{
			Account: "registry", Admin: "admin", StakingRecipient: "staking",
			Strike: 100_00000000, Expiration: e.expiry, OptionType: option.TypeCall,
		}, Collaborators{
			Book: e.book, Ledger: e.led, Fees: e.reg.engine,
			Pool:   pool.NewLiquidityPool(e.book, "empty-pool"),
			Oracle: e.oracle, Clock: e.clock, Access: e.acl,
		})
		require.NoError(t, err)
		_, err = empty.Create("trader", "", amount.New(1_000), "", "")
		require.ErrorIs(t, err, ErrPoolEmpty)
	})

	t.Run("insufficient allowance leaves no lock behind", func(t *testing.T) {
		e := newEnv(t)
		require.NoError(t, e.book.Approve("trader", "registry", amount.New(0)))
		_, err := e.reg.Create("trader", "", amount.New(1_000_000), "", "")
		require.ErrorIs(t, err, token.ErrInsufficientAllowance)
		require.Equal(t, amount.New(0), e.pool.LockedBalance())
	})

	t.Run("insufficient pool liquidity", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.reg.Create("trader", "", amount.New(1_000_000_000), "", "")
		require.ErrorIs(t, err, pool.ErrInsufficientLiquidity)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.reg.Create("trader", "", amount.New(0), "", "")
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("after expiry", func(t *testing.T) {
		e := newEnv(t)
		e.clock.Advance(25 * time.Hour)
		_, err := e.reg.Create("trader", "", amount.New(1_000), "", "")
		require.ErrorIs(t, err, ErrAlreadyExpired)
	})
}

func TestExercise(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)

	t.Run("same step is rejected", func(t *testing.T) {
		_, err := e.reg.Exercise("trader", id)
		require.ErrorIs(t, err, ErrBlockNotPermitted)
	})

	e.clock.Mine(1)

	t.Run("non-owner is not eligible", func(t *testing.T) {
		_, err := e.reg.Exercise("stranger", id)
		require.ErrorIs(t, err, ErrNotEligible)
	})

	// strike 100, price 120, amount 1e6:
	// profit = floor(20e8 * 1e6 / 120e8) = 166_666
	before := e.book.BalanceOf("trader")
	profit, err := e.reg.Exercise("trader", id)
	require.NoError(t, err)
	require.Equal(t, amount.New(166_666), profit)
	require.Equal(t, before.Add(profit), e.book.BalanceOf("trader"))
	require.Equal(t, amount.New(0), e.pool.LockedBalance())

	pos, err := e.led.Get(id)
	require.NoError(t, err)
	require.Equal(t, option.StateExercised, pos.State)

	t.Run("second exercise fails", func(t *testing.T) {
		_, err := e.reg.Exercise("trader", id)
		require.ErrorIs(t, err, ErrAlreadyExercised)
	})
	t.Run("unlock of exercised fails", func(t *testing.T) {
		e.clock.Advance(25 * time.Hour)
		require.ErrorIs(t, e.reg.Unlock(id), ErrAlreadyExercised)
	})
}

func TestExerciseOutOfTheMoney(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)
	e.clock.Mine(1)
	e.oracle.SetPrice(90_00000000)

	profit, err := e.reg.Exercise("trader", id)
	require.NoError(t, err)
	require.Equal(t, amount.New(0), profit)
	require.Equal(t, amount.New(0), e.pool.LockedBalance())
}

func TestExerciseAfterExpiry(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)
	e.clock.Mine(1)
	e.clock.Advance(25 * time.Hour)

	_, err := e.reg.Exercise("trader", id)
	require.ErrorIs(t, err, ErrAlreadyExpired)
}

func TestAutoCloseWindow(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)
	e.clock.Mine(1)
	e.acl.Grant(access.AutoCloser, "bot")

	t.Run("outside the window the capability is inert", func(t *testing.T) {
		e.clock.Set(e.expiry.Add(-time.Hour))
		_, err := e.reg.Exercise("bot", id)
		require.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("inside the window the auto-closer may exercise", func(t *testing.T) {
		e.clock.Set(e.expiry.Add(-10 * time.Minute))
		profit, err := e.reg.Exercise("bot", id)
		require.NoError(t, err)
		// payout still goes to the owner
		require.Equal(t, amount.New(166_666), profit)
		pos, err := e.led.Get(id)
		require.NoError(t, err)
		require.Equal(t, option.StateExercised, pos.State)
	})
}

func TestUnlock(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1_000_000)

	t.Run("before expiry", func(t *testing.T) {
		require.ErrorIs(t, e.reg.Unlock(id), ErrNotExpiredYet)
	})

	e.clock.Advance(24 * time.Hour)
	require.NoError(t, e.reg.Unlock(id))
	require.Equal(t, amount.New(0), e.pool.LockedBalance())

	pos, err := e.led.Get(id)
	require.NoError(t, err)
	require.Equal(t, option.StateUnlocked, pos.State)

	t.Run("second unlock fails", func(t *testing.T) {
		require.ErrorIs(t, e.reg.Unlock(id), ledger.ErrPositionNotActive)
	})
	t.Run("exercise of unlocked fails", func(t *testing.T) {
		e.clock.Mine(1)
		_, err := e.reg.Exercise("trader", id)
		require.ErrorIs(t, err, ledger.ErrPositionNotActive)
	})
}

func TestUnlockAll(t *testing.T) {
	e := newEnv(t)
	a := e.create(t, 100_000)
	b := e.create(t, 200_000)
	e.clock.Advance(24 * time.Hour)

	require.NoError(t, e.reg.UnlockAll([]uint64{a, b}))
	require.Equal(t, amount.New(0), e.pool.LockedBalance())

	t.Run("first failure aborts the batch", func(t *testing.T) {
		err := e.reg.UnlockAll([]uint64{a, 999})
		require.ErrorIs(t, err, ledger.ErrPositionNotActive)
	})
}

func TestParameterUpdates(t *testing.T) {
	e := newEnv(t)

	t.Run("strike change before expiry", func(t *testing.T) {
		require.ErrorIs(t, e.reg.SetStrike("owner", 110_00000000), ErrCannotChangeBeforeExpiry)
	})
	t.Run("non-admin", func(t *testing.T) {
		e.clock.Advance(24 * time.Hour)
		require.ErrorIs(t, e.reg.SetStrike("trader", 110_00000000), ErrUnauthorized)
	})

	t.Run("admin update begins a new slot epoch", func(t *testing.T) {
		require.NoError(t, e.reg.SetStrike("owner", 110_00000000))
		require.NoError(t, e.reg.SetExpiry("owner", e.clock.Now().Add(24*time.Hour)))

		id, err := e.reg.Create("trader", "", amount.New(1_000), "", "")
		require.NoError(t, err)
		pos, err := e.led.Get(id)
		require.NoError(t, err)
		slot, err := e.led.Slot(pos.SlotID)
		require.NoError(t, err)
		require.Equal(t, amount.Price(110_00000000), slot.Strike)
	})
}

func TestFeeAndRatioSetters(t *testing.T) {
	e := newEnv(t)

	require.ErrorIs(t, e.reg.SetSettlementFeePct("trader", 1), ErrUnauthorized)
	require.NoError(t, e.reg.SetSettlementFeePct("owner", 2))
	require.ErrorIs(t, e.reg.SetSettlementFeePct("owner", 101), fees.ErrInvalidParams)

	require.NoError(t, e.reg.SetStakingFeePct("owner", 50))
	require.NoError(t, e.reg.SetReferralRewardPct("owner", 10))
	require.NoError(t, e.reg.SetCollateralRatioPct("owner", 50))
	require.ErrorIs(t, e.reg.SetCollateralRatioPct("owner", 101), fees.ErrInvalidParams)
	require.NoError(t, e.reg.SetAutoCloseWindow("owner", time.Hour))
	require.NoError(t, e.reg.SetStakingRecipient("owner", "staking2"))
	require.ErrorIs(t, e.reg.SetStakingRecipient("owner", token.Zero), token.ErrZeroAddress)

	// new settlement fee 2%, staking 50%, referral 10%, ratio 50%
	id, err := e.reg.Create("trader", "", amount.New(1_000_000), "referrer", "")
	require.NoError(t, err)
	pos, err := e.led.Get(id)
	require.NoError(t, err)
	require.Equal(t, amount.New(500_000), pos.LockedAmount)
	require.Equal(t, amount.New(10_000), e.book.BalanceOf("staking2"))
	require.Equal(t, amount.New(1_000), e.book.BalanceOf("referrer"))
	require.Equal(t, amount.New(0), e.book.BalanceOf("registry"))
}

func TestPayout(t *testing.T) {
	t.Run("literal call scenario at 1e8 scale", func(t *testing.T) {
		profit := Payout(option.TypeCall, 100_00000000, 120_00000000,
			amount.New(10_000_000_000_000_000), amount.New(5_000_000_000_000_000))
		require.Equal(t, amount.New(1_666_666_666_666_666), profit)
	})
	t.Run("capped by locked collateral", func(t *testing.T) {
		profit := Payout(option.TypeCall, 100_00000000, 120_00000000,
			amount.New(10_000_000_000_000_000), amount.New(7))
		require.Equal(t, amount.New(7), profit)
	})
	t.Run("call out of the money", func(t *testing.T) {
		require.Equal(t, amount.New(0),
			Payout(option.TypeCall, 100_00000000, 100_00000000, amount.New(1e15), amount.New(1e15)))
		require.Equal(t, amount.New(0),
			Payout(option.TypeCall, 100_00000000, 80_00000000, amount.New(1e15), amount.New(1e15)))
	})
	t.Run("put mirrors call", func(t *testing.T) {
		// strike 120, price 100: profit = floor(20e8 * 1e6 / 120e8)
		require.Equal(t, amount.New(166_666),
			Payout(option.TypePut, 120_00000000, 100_00000000, amount.New(1_000_000), amount.New(1_000_000)))
		require.Equal(t, amount.New(0),
			Payout(option.TypePut, 100_00000000, 120_00000000, amount.New(1_000_000), amount.New(1_000_000)))
	})
}

func TestBeneficiaryAndMetadata(t *testing.T) {
	e := newEnv(t)
	id, err := e.reg.Create("trader", "friend", amount.New(1_000), "", "gift")
	require.NoError(t, err)

	pos, err := e.led.Get(id)
	require.NoError(t, err)
	require.Equal(t, token.AccountID("friend"), pos.Owner)
	require.Equal(t, "gift", pos.Meta)
}

// splittingOracle splits the watched position while a price is being fetched,
// landing a ledger mutation inside an in-flight exercise.
type splittingOracle struct {
	led   *ledger.Ledger
	id    uint64
	price amount.Price
	armed bool
}

func (o *splittingOracle) CurrentPrice() (amount.Price, error) {
	if o.armed {
		o.armed = false
		if _, err := o.led.Split("trader", o.id, []uint64{500_000}); err != nil {
			return 0, err
		}
	}
	return o.price, nil
}

func TestExerciseFailsWhenPositionChangesMidFlight(t *testing.T) {
	e := newEnv(t)
	oracle := &splittingOracle{led: e.led, price: 120_00000000}
	reg, err := New(Config{
		Account: "registry", Admin: "admin", StakingRecipient: "staking",
		Strike: 100_00000000, Expiration: e.expiry, OptionType: option.TypeCall,
	}, Collaborators{
		Book: e.book, Ledger: e.led, Fees: e.reg.engine, Pool: e.pool,
		Oracle: oracle, Clock: e.clock, Access: e.acl,
	})
	require.NoError(t, err)

	id, err := reg.Create("trader", "", amount.New(1_000_000), "", "")
	require.NoError(t, err)
	e.clock.Mine(1)

	oracle.id = id
	oracle.armed = true
	before := e.book.BalanceOf("trader")
	_, err = reg.Exercise("trader", id)
	require.ErrorIs(t, err, ledger.ErrStaleSnapshot)

	// Nothing was paid or released against the stale snapshot.
	require.Equal(t, amount.New(1_000_000), e.pool.LockedBalance())
	require.Equal(t, before, e.book.BalanceOf("trader"))

	// A fresh read settles the diminished position only.
	profit, err := reg.Exercise("trader", id)
	require.NoError(t, err)
	require.Equal(t, amount.New(83_333), profit)
	require.Equal(t, amount.New(500_000), e.pool.LockedBalance())
}

type ownerACL struct{ owner token.AccountID }

func (a ownerACL) IsOwner(caller token.AccountID) bool { return caller == a.owner }

func (a ownerACL) HasCapability(token.AccountID, access.Capability) bool { return false }

func TestOwnerAdministersWithoutExplicitGrant(t *testing.T) {
	e := newEnv(t)
	reg, err := New(Config{
		Account: "registry", Admin: "admin", StakingRecipient: "staking",
		Strike: 100_00000000, Expiration: e.expiry, OptionType: option.TypeCall,
	}, Collaborators{
		Book: e.book, Ledger: e.led, Fees: e.reg.engine, Pool: e.pool,
		Oracle: e.oracle, Clock: e.clock, Access: ownerACL{owner: "owner"},
	})
	require.NoError(t, err)

	require.NoError(t, reg.SetCollateralRatioPct("owner", 50))
	require.ErrorIs(t, reg.SetCollateralRatioPct("admin", 50), ErrUnauthorized)
}
