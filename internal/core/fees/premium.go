package fees

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/option"
)

// FixedPremium is a PremiumModel returning a constant premium, for
// deterministic tests and standalone mode.
type FixedPremium struct {
	P amount.Amount
}

func (m FixedPremium) Premium(time.Duration, amount.Amount, amount.Price, option.Type) (amount.Amount, error) {
	return m.P, nil
}

// TimeValueModel prices the premium as a square-root-of-time value:
//
//	premium = floor(amount × ivRate × √periodSeconds / priceScale)
//
// ivRate is an implied-volatility rate in price-scale units. The product can
// exceed 64 bits for large notionals, so the arithmetic runs in decimal.
type TimeValueModel struct {
	IVRate int64
}

func (m TimeValueModel) Premium(period time.Duration, amt amount.Amount, strike amount.Price, typ option.Type) (amount.Amount, error) {
	if m.IVRate <= 0 {
		return 0, errors.New("time-value model: non-positive iv rate")
	}
	if period <= 0 {
		return 0, errors.New("time-value model: non-positive period")
	}
	if !strike.IsPositive() {
		return 0, errors.New("time-value model: non-positive strike")
	}

	sqrtPeriod := isqrt(uint64(period / time.Second))
	v := decimal.NewFromInt(amt.Int64()).
		Mul(decimal.NewFromInt(m.IVRate)).
		Mul(decimal.NewFromUint64(sqrtPeriod)).
		Div(decimal.NewFromInt(int64(amount.PriceScale))).
		Floor()
	if !v.IsInteger() || v.IsNegative() {
		return 0, errors.New("time-value model: premium out of range")
	}
	return amount.New(v.IntPart()), nil
}

// isqrt returns floor(sqrt(x)) by Newton's method.
func isqrt(x uint64) uint64 {
	if x < 2 {
		return x
	}
	k := x/2 + 1
	result := x
	for k < result {
		result, k = k, (x/k+k)/2
	}
	return result
}
