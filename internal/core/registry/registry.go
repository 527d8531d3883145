// Package registry implements the option lifecycle: creation against pooled
// collateral, exercise against the price feed, and expiry unlock. It
// orchestrates the fee engine, the slot ledger, the settlement book and the
// external pool/feed/access collaborators.
//
// Every mutating operation validates against a single snapshot of price and
// time, then applies under one lock, so concurrent callers observe either the
// full effect of an operation or none of it.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/optionledger/optiond/internal/core/access"
	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/fees"
	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/events"
	"github.com/optionledger/optiond/internal/feed"
)

var (
	ErrPoolEmpty                = errors.New("the pool is empty")
	ErrInvalidAmount            = errors.New("invalid option amount")
	ErrNotExpiredYet            = errors.New("option has not expired yet")
	ErrAlreadyExpired           = errors.New("option has expired")
	ErrAlreadyExercised         = errors.New("option was already exercised")
	ErrBlockNotPermitted        = errors.New("block number not permitted")
	ErrNotEligible              = errors.New("caller is not eligible to exercise the option")
	ErrCannotChangeBeforeExpiry = errors.New("cannot change parameters before expiry")
	ErrUnauthorized             = ledger.ErrUnauthorized

	// ErrInternalInvariant marks a bookkeeping breach (residual settlement
	// balance, impossible transfer). Not a user error.
	ErrInternalInvariant = errors.New("internal invariant violation")
)

// Defaults applied when Config leaves the field zero.
const (
	DefaultCollateralRatioPct = 100
	DefaultAutoCloseWindow    = 30 * time.Minute
)

// Pool is the collateral pool as the registry consumes it.
type Pool interface {
	TotalBalance() amount.Amount
	Lock(amt amount.Amount) error
	Release(amt amount.Amount) error
	PayOut(recipient token.AccountID, amt amount.Amount) error
	Account() token.AccountID
}

// Config carries the registry's accounts and the current slot-defining
// parameters. Strike and Expiration define the slot epoch; administrator
// updates after expiry begin a new epoch.
type Config struct {
	// Account is the registry's own settlement account, used as a conduit
	// for fee collection. It must hold a zero balance outside of a create
	// call.
	Account          token.AccountID
	Admin            token.AccountID
	StakingRecipient token.AccountID

	Strike     amount.Price
	Expiration time.Time
	OptionType option.Type

	CollateralRatioPct int64
	AutoCloseWindow    time.Duration
}

func (c Config) validate() error {
	if c.Account == token.Zero || c.Admin == token.Zero || c.StakingRecipient == token.Zero {
		return errors.New("registry: zero account in config")
	}
	if !c.Strike.IsPositive() {
		return errors.New("registry: non-positive strike")
	}
	if c.Expiration.IsZero() {
		return errors.New("registry: zero expiration")
	}
	if !c.OptionType.Valid() {
		return errors.New("registry: invalid option type")
	}
	if c.CollateralRatioPct < 0 || c.CollateralRatioPct > 100 {
		return errors.New("registry: collateral ratio out of range")
	}
	if c.AutoCloseWindow < 0 {
		return errors.New("registry: negative auto-close window")
	}
	return nil
}

// Collaborators are the injected dependencies.
type Collaborators struct {
	Book   *token.Book
	Ledger *ledger.Ledger
	Fees   *fees.Engine
	Pool   Pool
	Oracle feed.PriceOracle
	Clock  feed.Clock
	Access access.Controller
	Bus    *events.Bus
	Log    *logrus.Entry
}

// Registry owns the option lifecycle state machine.
type Registry struct {
	mu  sync.Mutex
	log *logrus.Entry
	bus *events.Bus

	book   *token.Book
	ledger *ledger.Ledger
	engine *fees.Engine
	pool   Pool
	oracle feed.PriceOracle
	clock  feed.Clock
	acl    access.Controller

	account          token.AccountID
	admin            token.AccountID
	stakingRecipient token.AccountID

	strike             amount.Price
	expiration         time.Time
	optionType         option.Type
	collateralRatioPct int64
	autoCloseWindow    time.Duration
}

func New(cfg Config, c Collaborators) (*Registry, error) {
	if cfg.CollateralRatioPct == 0 {
		cfg.CollateralRatioPct = DefaultCollateralRatioPct
	}
	if cfg.AutoCloseWindow == 0 {
		cfg.AutoCloseWindow = DefaultAutoCloseWindow
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if c.Book == nil || c.Ledger == nil || c.Fees == nil || c.Pool == nil ||
		c.Oracle == nil || c.Clock == nil || c.Access == nil {
		return nil, errors.New("registry: missing collaborator")
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		log:                c.Log,
		bus:                c.Bus,
		book:               c.Book,
		ledger:             c.Ledger,
		engine:             c.Fees,
		pool:               c.Pool,
		oracle:             c.Oracle,
		clock:              c.Clock,
		acl:                c.Access,
		account:            cfg.Account,
		admin:              cfg.Admin,
		stakingRecipient:   cfg.StakingRecipient,
		strike:             cfg.Strike,
		expiration:         cfg.Expiration,
		optionType:         cfg.OptionType,
		collateralRatioPct: cfg.CollateralRatioPct,
		autoCloseWindow:    cfg.AutoCloseWindow,
	}, nil
}

// Terms returns the current slot-defining parameters.
func (r *Registry) Terms() (amount.Price, time.Time, option.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strike, r.expiration, r.optionType
}

// Create issues a new fully owned position for beneficiary against amt of
// notional. The caller pays the total fee from its settlement balance via
// allowance; the settlement fee is distributed to the staking recipient,
// the referrer and the admin, and the premium is forwarded to the pool
// together with a collateral lock. A zero beneficiary defaults to the
// caller; a zero referrer folds the referral share into the admin share.
func (r *Registry) Create(caller, beneficiary token.AccountID, amt amount.Amount, referrer token.AccountID, meta string) (uint64, error) {
	if caller == token.Zero {
		return 0, token.ErrZeroAddress
	}
	if !amt.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if beneficiary == token.Zero {
		beneficiary = caller
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool.TotalBalance().IsZero() {
		return 0, ErrPoolEmpty
	}

	now := r.clock.Now()
	step := r.clock.CurrentStep()
	period := r.expiration.Sub(now)
	if period <= 0 {
		return 0, ErrAlreadyExpired
	}

	quote, err := r.engine.Quote(period, amt, r.strike, r.optionType)
	if err != nil {
		return 0, err
	}
	split, err := r.engine.Distribute(quote.SettlementFee)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInternalInvariant, err)
	}
	locked := amt.MulDiv(r.collateralRatioPct, 100)

	// Lock collateral first: it is the only step that can fail after money
	// starts moving, and it is reversible.
	if err := r.pool.Lock(locked); err != nil {
		return 0, err
	}
	if err := r.book.TransferFrom(r.account, caller, r.account, quote.TotalFee); err != nil {
		if rerr := r.pool.Release(locked); rerr != nil {
			return 0, fmt.Errorf("%w: release after failed collection: %v", ErrInternalInvariant, rerr)
		}
		return 0, err
	}

	referral := split.Referral
	adminShare := split.Admin
	if referrer == token.Zero || referrer == caller {
		adminShare = adminShare.Add(referral)
		referral = amount.New(0)
	}
	if err := r.disperse(split.Staking, referral, adminShare, quote.Premium, referrer); err != nil {
		return 0, err
	}
	if residual := r.book.BalanceOf(r.account); !residual.IsZero() {
		return 0, fmt.Errorf("%w: residual settlement balance %s after create", ErrInternalInvariant, residual)
	}

	slot, err := r.ledger.EnsureSlot(r.strike, r.expiration, r.optionType)
	if err != nil {
		return 0, err
	}
	id, err := r.ledger.Mint(ledger.MintParams{
		SlotID:       slot.ID,
		Owner:        beneficiary,
		Amount:       amt,
		LockedAmount: locked,
		Premium:      quote.Premium,
		Meta:         meta,
		CreatedStep:  step,
		CreatedAt:    now,
	})
	if err != nil {
		return 0, err
	}

	r.log.WithFields(logrus.Fields{
		"position": id,
		"slot":     slot.ID,
		"owner":    beneficiary,
		"amount":   amt,
		"locked":   locked,
		"totalFee": quote.TotalFee,
	}).Info("option created")

	r.bus.Publish(events.Record{
		Kind:             events.KindCreated,
		TargetPositionID: id,
		UnitsMoved:       option.MaxUnits,
		From:             caller,
		To:               beneficiary,
		Amount:           amt,
		SlotID:           slot.ID,
	})
	return id, nil
}

// disperse moves the collected fee out of the registry account. The account
// was just credited with exactly these components, so a failure here is a
// bookkeeping breach.
func (r *Registry) disperse(staking, referral, adminShare, premium amount.Amount, referrer token.AccountID) error {
	pay := func(to token.AccountID, amt amount.Amount) error {
		if amt.IsZero() {
			return nil
		}
		if err := r.book.Transfer(r.account, to, amt); err != nil {
			return fmt.Errorf("%w: fee dispersal: %v", ErrInternalInvariant, err)
		}
		return nil
	}
	if err := pay(r.stakingRecipient, staking); err != nil {
		return err
	}
	if err := pay(referrer, referral); err != nil {
		return err
	}
	if err := pay(r.admin, adminShare); err != nil {
		return err
	}
	return pay(r.pool.Account(), premium)
}

// Exercise settles a position's in-the-money profit from the pool to its
// owner and releases the remaining collateral. The caller must be the owner,
// or hold the auto-closer capability inside the trailing pre-expiry window.
func (r *Registry) Exercise(caller token.AccountID, id uint64) (amount.Amount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := r.ledger.Get(id)
	if err != nil {
		return 0, err
	}
	switch pos.State {
	case option.StateExercised:
		return 0, ErrAlreadyExercised
	case option.StateUnlocked:
		return 0, ledger.ErrPositionNotActive
	}
	slot, err := r.ledger.Slot(pos.SlotID)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	step := r.clock.CurrentStep()
	if now.After(slot.Expiration) {
		return 0, ErrAlreadyExpired
	}
	if caller != pos.Owner {
		inWindow := !now.Before(slot.Expiration.Add(-r.autoCloseWindow))
		if !inWindow || !r.acl.HasCapability(caller, access.AutoCloser) {
			return 0, ErrNotEligible
		}
	}
	if step == pos.CreatedStep {
		return 0, ErrBlockNotPermitted
	}

	price, err := r.oracle.CurrentPrice()
	if err != nil {
		return 0, err
	}
	profit := Payout(slot.Type, slot.Strike, price, pos.Amount, pos.LockedAmount)

	// Settling first is the commit point: it fails if the position was split,
	// merged or transferred since the snapshot above, and once it succeeds no
	// ledger operation can touch the position while its collateral is paid.
	if err := r.ledger.Settle(id, pos, option.StateExercised); err != nil {
		return 0, err
	}
	if profit.IsPositive() {
		if err := r.pool.PayOut(pos.Owner, profit); err != nil {
			return 0, fmt.Errorf("%w: payout after settle: %v", ErrInternalInvariant, err)
		}
	}
	if err := r.pool.Release(pos.LockedAmount.Sub(profit)); err != nil {
		return 0, fmt.Errorf("%w: release after payout: %v", ErrInternalInvariant, err)
	}

	r.log.WithFields(logrus.Fields{
		"position": id,
		"owner":    pos.Owner,
		"profit":   profit,
		"price":    price,
	}).Info("option exercised")

	r.bus.Publish(events.Record{
		Kind:       events.KindExercised,
		PositionID: id,
		From:       caller,
		To:         pos.Owner,
		Amount:     profit,
		SlotID:     pos.SlotID,
	})
	return profit, nil
}

// Unlock returns an expired, unexercised position's collateral to the pool.
// It is permissionless: anyone may unlock once the expiration has passed.
func (r *Registry) Unlock(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unlockLocked(id)
}

// UnlockAll unlocks positions in order, stopping at the first failure. Each
// unlock is atomic; earlier successes in the batch stand.
func (r *Registry) UnlockAll(ids []uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if err := r.unlockLocked(id); err != nil {
			return fmt.Errorf("unlock position %d: %w", id, err)
		}
	}
	return nil
}

func (r *Registry) unlockLocked(id uint64) error {
	pos, err := r.ledger.Get(id)
	if err != nil {
		return err
	}
	switch pos.State {
	case option.StateExercised:
		return ErrAlreadyExercised
	case option.StateUnlocked:
		return ledger.ErrPositionNotActive
	}
	slot, err := r.ledger.Slot(pos.SlotID)
	if err != nil {
		return err
	}
	if r.clock.Now().Before(slot.Expiration) {
		return ErrNotExpiredYet
	}
	if err := r.ledger.Settle(id, pos, option.StateUnlocked); err != nil {
		return err
	}
	if err := r.pool.Release(pos.LockedAmount); err != nil {
		return fmt.Errorf("%w: release after settle: %v", ErrInternalInvariant, err)
	}

	r.log.WithFields(logrus.Fields{
		"position": id,
		"owner":    pos.Owner,
		"released": pos.LockedAmount,
	}).Info("option unlocked")

	r.bus.Publish(events.Record{
		Kind:       events.KindUnlocked,
		PositionID: id,
		From:       pos.Owner,
		To:         pos.Owner,
		Amount:     pos.LockedAmount,
		SlotID:     pos.SlotID,
	})
	return nil
}

// SetStrike updates the strike for subsequently created positions. Permitted
// only for the administrator and only once the current expiration has
// passed; a successful update begins a new slot epoch.
func (r *Registry) SetStrike(caller token.AccountID, strike amount.Price) error {
	if !strike.IsPositive() {
		return ledger.ErrInvalidSlot
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdminAfterExpiry(caller); err != nil {
		return err
	}
	r.strike = strike
	r.log.WithField("strike", strike).Info("strike updated")
	return nil
}

// SetExpiry updates the expiration for subsequently created positions, under
// the same gate as SetStrike.
func (r *Registry) SetExpiry(caller token.AccountID, expiration time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdminAfterExpiry(caller); err != nil {
		return err
	}
	if !expiration.After(r.clock.Now()) {
		return ledger.ErrInvalidSlot
	}
	r.expiration = expiration
	r.log.WithField("expiration", expiration).Info("expiration updated")
	return nil
}

func (r *Registry) requireAdminAfterExpiry(caller token.AccountID) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if r.clock.Now().Before(r.expiration) {
		return ErrCannotChangeBeforeExpiry
	}
	return nil
}

// requireAdmin admits the owner and any holder of the Administrator
// capability.
func (r *Registry) requireAdmin(caller token.AccountID) error {
	if !r.acl.IsOwner(caller) && !r.acl.HasCapability(caller, access.Administrator) {
		return ErrUnauthorized
	}
	return nil
}

// SetSettlementFeePct updates the settlement-fee percentage. Administrator
// only; effective for subsequent creations.
func (r *Registry) SetSettlementFeePct(caller token.AccountID, pct int64) error {
	return r.setFeeParam(caller, func(p *fees.Params) { p.SettlementFeePct = pct })
}

// SetStakingFeePct updates the staking share of the settlement fee.
func (r *Registry) SetStakingFeePct(caller token.AccountID, pct int64) error {
	return r.setFeeParam(caller, func(p *fees.Params) { p.StakingFeePct = pct })
}

// SetReferralRewardPct updates the referral share of the post-staking
// remainder.
func (r *Registry) SetReferralRewardPct(caller token.AccountID, pct int64) error {
	return r.setFeeParam(caller, func(p *fees.Params) { p.ReferralRewardPct = pct })
}

func (r *Registry) setFeeParam(caller token.AccountID, mutate func(*fees.Params)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	p := r.engine.Params()
	mutate(&p)
	return r.engine.SetParams(p)
}

// SetCollateralRatioPct updates the collateralization ratio for subsequent
// creations.
func (r *Registry) SetCollateralRatioPct(caller token.AccountID, pct int64) error {
	if pct < 0 || pct > 100 {
		return fees.ErrInvalidParams
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	r.collateralRatioPct = pct
	return nil
}

// SetStakingRecipient updates the staking-fee recipient.
func (r *Registry) SetStakingRecipient(caller token.AccountID, recipient token.AccountID) error {
	if recipient == token.Zero {
		return token.ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	r.stakingRecipient = recipient
	return nil
}

// SetAutoCloseWindow updates the trailing window in which the auto-closer
// capability is valid.
func (r *Registry) SetAutoCloseWindow(caller token.AccountID, window time.Duration) error {
	if window < 0 {
		return errors.New("registry: negative auto-close window")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	r.autoCloseWindow = window
	return nil
}

// Payout computes the settled profit of a position at the given price:
// the in-the-money value in settlement-asset terms, floor-divided, capped by
// the locked collateral and clamped to zero when out of the money.
func Payout(typ option.Type, strike, price amount.Price, amt, locked amount.Amount) amount.Amount {
	var profit amount.Amount
	switch typ {
	case option.TypeCall:
		if price > strike {
			profit = amount.New(amount.MulDiv(uint64(price-strike), uint64(amt.Int64()), uint64(price)))
		}
	case option.TypePut:
		if price < strike {
			profit = amount.New(amount.MulDiv(uint64(strike-price), uint64(amt.Int64()), uint64(strike)))
		}
	}
	return profit.Min(locked)
}
