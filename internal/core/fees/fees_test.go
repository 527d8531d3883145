package fees

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/option"
)

func newTestEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := NewEngine(p, FixedPremium{P: amount.New(1_000)})
	require.NoError(t, err)
	return e
}

func TestQuote(t *testing.T) {
	e := newTestEngine(t, Params{SettlementFeePct: 5, StakingFeePct: 75, ReferralRewardPct: 25})

	q, err := e.Quote(24*time.Hour, amount.New(1_000_000), 100_00000000, option.TypeCall)
	require.NoError(t, err)
	require.Equal(t, amount.New(50_000), q.SettlementFee)
	require.Equal(t, amount.New(1_000), q.Premium)
	require.Equal(t, q.SettlementFee.Add(q.Premium), q.TotalFee)
}

func TestDistributeSumsExactly(t *testing.T) {
	cases := []struct {
		name       string
		params     Params
		settlement int64
	}{
		{"even split", Params{StakingFeePct: 75, ReferralRewardPct: 25}, 100_000},
		{"truncating", Params{StakingFeePct: 33, ReferralRewardPct: 17}, 99_999},
		{"zero staking", Params{StakingFeePct: 0, ReferralRewardPct: 50}, 12_345},
		{"all staking", Params{StakingFeePct: 100, ReferralRewardPct: 50}, 777},
		{"one unit", Params{StakingFeePct: 75, ReferralRewardPct: 25}, 1},
		{"zero fee", Params{StakingFeePct: 75, ReferralRewardPct: 25}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, tc.params)
			s, err := e.Distribute(amount.New(tc.settlement))
			require.NoError(t, err)
			require.Equal(t, amount.New(tc.settlement), s.Staking.Add(s.Referral).Add(s.Admin))
			require.False(t, s.Staking.IsNegative())
			require.False(t, s.Referral.IsNegative())
			require.False(t, s.Admin.IsNegative())
		})
	}
}

func TestDistributeWaterfall(t *testing.T) {
	// staking off the top, referral off the remainder, admin keeps the rest
	e := newTestEngine(t, Params{StakingFeePct: 75, ReferralRewardPct: 25})
	s, err := e.Distribute(amount.New(1_000))
	require.NoError(t, err)
	require.Equal(t, amount.New(750), s.Staking)
	require.Equal(t, amount.New(62), s.Referral) // floor(250 * 25 / 100)
	require.Equal(t, amount.New(188), s.Admin)
}

func TestParamsValidation(t *testing.T) {
	_, err := NewEngine(Params{SettlementFeePct: 101}, FixedPremium{})
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = NewEngine(Params{StakingFeePct: -1}, FixedPremium{})
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = NewEngine(Params{}, nil)
	require.Error(t, err)
}

func TestTimeValueModel(t *testing.T) {
	m := TimeValueModel{IVRate: 5500}

	p1, err := m.Premium(time.Hour, amount.New(1e12), 100_00000000, option.TypeCall)
	require.NoError(t, err)
	require.True(t, p1.IsPositive())

	// longer period, larger premium
	p2, err := m.Premium(4*time.Hour, amount.New(1e12), 100_00000000, option.TypeCall)
	require.NoError(t, err)
	require.Equal(t, p1.Int64()*2, p2.Int64()) // sqrt(4h) = 2·sqrt(1h), scale is exact here

	_, err = m.Premium(0, amount.New(1e12), 100_00000000, option.TypeCall)
	require.Error(t, err)
	_, err = m.Premium(time.Hour, amount.New(1e12), 0, option.TypeCall)
	require.Error(t, err)
}

func TestIsqrt(t *testing.T) {
	for _, tc := range []struct{ x, want uint64 }{
		{0, 0}, {1, 1}, {3, 1}, {4, 2}, {15, 3}, {16, 4}, {3600, 60}, {86400, 293},
	} {
		require.Equal(t, tc.want, isqrt(tc.x), "isqrt(%d)", tc.x)
	}
}
