// Package fees computes fee quotes for option creation and allocates the
// settlement-fee component among the protocol's stakeholders. Quote and
// Distribute are pure; the time-value premium is a pluggable model.
package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/option"
)

var (
	ErrInvalidParams = errors.New("fee parameters out of range")
	// ErrDecomposition indicates the allocated components failed to sum
	// back to the settlement fee. This is an internal-consistency failure,
	// not a user error.
	ErrDecomposition = errors.New("fee decomposition does not sum to settlement fee")
)

// Params are the protocol's fee percentages.
type Params struct {
	// SettlementFeePct is the settlement fee as a percentage of notional.
	SettlementFeePct int64
	// StakingFeePct is the staking share of the settlement fee.
	StakingFeePct int64
	// ReferralRewardPct is the referral share of what remains after staking.
	ReferralRewardPct int64
}

func (p Params) Validate() error {
	for _, pct := range []int64{p.SettlementFeePct, p.StakingFeePct, p.ReferralRewardPct} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: percentage %d", ErrInvalidParams, pct)
		}
	}
	return nil
}

// Quote is the fee breakdown for one creation. TotalFee = SettlementFee +
// Premium always holds.
type Quote struct {
	TotalFee      amount.Amount
	SettlementFee amount.Amount
	Premium       amount.Amount
}

// Split is the allocation of a settlement fee. Staking + Referral + Admin
// equals the settlement fee exactly.
type Split struct {
	Staking  amount.Amount
	Referral amount.Amount
	Admin    amount.Amount
}

// PremiumModel prices the time-value component of an option. The exact
// numerical model is external to the core; implementations must be
// deterministic for a given input.
type PremiumModel interface {
	Premium(period time.Duration, amt amount.Amount, strike amount.Price, typ option.Type) (amount.Amount, error)
}

// Engine computes quotes and distributions from protocol parameters.
type Engine struct {
	params Params
	model  PremiumModel
}

func NewEngine(params Params, model PremiumModel) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("fees: nil premium model")
	}
	return &Engine{params: params, model: model}, nil
}

// Params returns the engine's current parameters.
func (e *Engine) Params() Params {
	return e.params
}

// SetParams replaces the fee percentages.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// Quote computes the fees for creating an option of the given notional.
func (e *Engine) Quote(period time.Duration, amt amount.Amount, strike amount.Price, typ option.Type) (Quote, error) {
	premium, err := e.model.Premium(period, amt, strike, typ)
	if err != nil {
		return Quote{}, fmt.Errorf("premium model: %w", err)
	}
	settlement := amt.MulDiv(e.params.SettlementFeePct, 100)
	return Quote{
		TotalFee:      settlement.Add(premium),
		SettlementFee: settlement,
		Premium:       premium,
	}, nil
}

// Distribute allocates a settlement fee among staking, referral and admin.
// The staking share comes off the top, the referral share off the remainder,
// and the admin share is whatever is left, so the three always sum exactly.
// The sum is still verified and a mismatch returns ErrDecomposition.
func (e *Engine) Distribute(settlement amount.Amount) (Split, error) {
	staking := settlement.MulDiv(e.params.StakingFeePct, 100)
	rest := settlement.Sub(staking)
	referral := rest.MulDiv(e.params.ReferralRewardPct, 100)
	admin := rest.Sub(referral)

	if staking.Add(referral).Add(admin) != settlement {
		return Split{}, ErrDecomposition
	}
	return Split{Staking: staking, Referral: referral, Admin: admin}, nil
}
