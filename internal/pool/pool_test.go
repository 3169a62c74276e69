package pool

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openweight/simm/internal/ledger"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	alice    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
)

type stubUnbindHandler struct {
	addr  common.Address
	calls []struct {
		token  common.Address
		amount sdkmath.Int
	}
	fail bool
}

func (h *stubUnbindHandler) Address() common.Address { return h.addr }

func (h *stubUnbindHandler) HandleUnbindToken(token common.Address, amount sdkmath.Int) error {
	if h.fail {
		return errors.New("handler unavailable")
	}
	h.calls = append(h.calls, struct {
		token  common.Address
		amount sdkmath.Int
	}{token, amount})
	return nil
}

type fixture struct {
	pool    *Pool
	ledger  *ledger.InMemory
	handler *stubUnbindHandler
	clock   time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T, swapFee sdkmath.LegacyDec) *fixture {
	t.Helper()

	f := &fixture{
		ledger:  ledger.NewInMemory(),
		handler: &stubUnbindHandler{addr: common.HexToAddress("0x0000000000000000000000000000000000000dd0")},
		clock:   time.Unix(1_700_000_000, 0).UTC(),
	}
	p, err := New(Config{
		Address:       poolAddr,
		Ledger:        f.ledger,
		UnbindHandler: f.handler,
		SwapFee:       swapFee,
	})
	require.NoError(t, err)
	p.now = func() time.Time { return f.clock }
	f.pool = p
	return f
}

// newInitializedFixture seeds tokenA (100 @ weight 10) and tokenB
// (200 @ weight 10) from alice and gives bob deep trading balances.
func newInitializedFixture(t *testing.T, swapFee sdkmath.LegacyDec) *fixture {
	t.Helper()

	f := newFixture(t, swapFee)
	require.NoError(t, f.ledger.Mint(tokenA, alice, amt(100)))
	require.NoError(t, f.ledger.Mint(tokenB, alice, amt(200)))
	require.NoError(t, f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(100), Weight: dec("10")},
		{Token: tokenB, Balance: amt(200), Weight: dec("10")},
	}))
	require.NoError(t, f.ledger.Mint(tokenA, bob, amt(1_000_000)))
	require.NoError(t, f.ledger.Mint(tokenB, bob, amt(1_000_000)))
	require.NoError(t, f.ledger.Mint(tokenC, bob, amt(1_000_000)))
	return f
}

func TestInitialize(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	assert.True(t, f.pool.ShareBalance(alice).Equal(InitialShares))
	assert.True(t, f.pool.TotalShares().Equal(InitialShares))
	assert.True(t, f.pool.TotalDenormalizedWeight().Equal(dec("20")))
	assert.True(t, f.ledger.BalanceOf(tokenA, poolAddr).Equal(amt(100)))
	assert.True(t, f.ledger.BalanceOf(tokenB, poolAddr).Equal(amt(200)))

	err := f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(1), Weight: dec("10")},
		{Token: tokenB, Balance: amt(1), Weight: dec("10")},
	})
	assert.ErrorIs(t, err, ErrDuplicateInitialization)
}

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t, dec("0.003"))
	require.NoError(t, f.ledger.Mint(tokenA, alice, amt(1000)))
	require.NoError(t, f.ledger.Mint(tokenB, alice, amt(1000)))

	err := f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(100), Weight: dec("10")},
	})
	assert.Error(t, err, "single-token pool must be rejected")

	err = f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(100), Weight: dec("26")},
		{Token: tokenB, Balance: amt(100), Weight: dec("1")},
	})
	assert.ErrorIs(t, err, ErrAboveMaxWeight)

	err = f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(100), Weight: dec("20")},
		{Token: tokenB, Balance: amt(100), Weight: dec("20")},
	})
	assert.ErrorIs(t, err, ErrAboveMaxTotalWeight)

	err = f.pool.Initialize(alice, []InitialToken{
		{Token: tokenA, Balance: amt(100), Weight: dec("10")},
		{Token: tokenA, Balance: amt(100), Weight: dec("10")},
	})
	assert.ErrorIs(t, err, ErrAlreadyBound)

	// Nothing partial may survive a failed initialization.
	assert.False(t, f.pool.IsBound(tokenA))
	assert.True(t, f.ledger.BalanceOf(tokenA, poolAddr).IsZero())
}

func TestSwapExactAmountIn_Pricing(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	// Equal weights, balances 100/200: mid price is 2 out per in. A
	// small trade should realize close to 2*(1-fee) with sub-percent
	// slippage.
	out, err := f.pool.SwapExactAmountIn(bob, tokenA, amt(1), tokenB, sdkmath.ZeroInt())
	require.NoError(t, err)

	ideal := dec("2").Mul(decOne.Sub(dec("0.003"))).MulInt(amt(1)).TruncateInt()
	assert.True(t, out.LT(ideal), "slippage must cost something: out %s ideal %s", out, ideal)
	assert.True(t, sdkmath.LegacyNewDecFromInt(out).GT(sdkmath.LegacyNewDecFromInt(ideal).Mul(dec("0.98"))),
		"out %s too far from ideal %s", out, ideal)

	recA, err := f.pool.RecordOf(tokenA)
	require.NoError(t, err)
	recB, err := f.pool.RecordOf(tokenB)
	require.NoError(t, err)
	assert.True(t, recA.Balance.Equal(amt(101)))
	assert.True(t, recB.Balance.Equal(amt(200).Sub(out)))
	assert.True(t, f.ledger.BalanceOf(tokenB, poolAddr).Equal(recB.Balance))
}

func TestSwapExactAmountOut(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	in, err := f.pool.SwapExactAmountOut(bob, tokenA, amt(10), tokenB, amt(2))
	require.NoError(t, err)

	// Paying for 2 out at mid price 2 costs about 1 in plus fee and
	// slippage.
	assert.True(t, in.GT(amt(1)), "in %s", in)
	assert.True(t, in.LT(amt(2)), "in %s", in)

	recB, err := f.pool.RecordOf(tokenB)
	require.NoError(t, err)
	assert.True(t, recB.Balance.Equal(amt(198)))
}

func TestSwapRatioBounds(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	_, err := f.pool.SwapExactAmountIn(bob, tokenA, amt(51), tokenB, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrMaxInRatio)

	_, err = f.pool.SwapExactAmountOut(bob, tokenA, amt(1000), tokenB, amt(80))
	assert.ErrorIs(t, err, ErrMinOutRatio)
}

func TestSwapLimitsLeaveStateUntouched(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	_, err := f.pool.SwapExactAmountIn(bob, tokenA, amt(1), tokenB, amt(100))
	assert.ErrorIs(t, err, ErrLimitOut)

	_, err = f.pool.SwapExactAmountOut(bob, tokenA, amt(1).QuoRaw(2), tokenB, amt(2))
	assert.ErrorIs(t, err, ErrLimitIn)

	recA, err := f.pool.RecordOf(tokenA)
	require.NoError(t, err)
	assert.True(t, recA.Balance.Equal(amt(100)))
	assert.True(t, f.ledger.BalanceOf(tokenA, bob).Equal(amt(1_000_000)))
}

func TestSwapValidation(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	_, err := f.pool.SwapExactAmountIn(bob, tokenC, amt(1), tokenB, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrNotBound)

	_, err = f.pool.SwapExactAmountIn(bob, tokenA, amt(1), tokenA, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrSameToken)

	_, err = f.pool.SwapExactAmountIn(bob, tokenA, sdkmath.ZeroInt(), tokenB, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNotReadyTokenLifecycle(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))
	require.NoError(t, f.pool.Bind(tokenC, dec("5"), amt(50)))

	// An unseeded token cannot leave the pool.
	_, err := f.pool.SwapExactAmountIn(bob, tokenA, amt(1), tokenC, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrTokenNotReady)

	// Pricing substitutes (minimumBalance, MinWeight) while not ready.
	price, err := f.pool.SpotPrice(tokenC, tokenA)
	require.NoError(t, err)
	expected := calcSpotPrice(amt(50), MinWeight, amt(100), dec("10"), dec("0.003"))
	assert.True(t, price.Equal(expected), "price %s expected %s", price, expected)

	// Seed it past the minimum through inbound swaps.
	_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(25), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	rec, err := f.pool.RecordOf(tokenC)
	require.NoError(t, err)
	assert.False(t, rec.Ready)
	assert.True(t, rec.Weight.IsZero())

	_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(25), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	rec, err = f.pool.RecordOf(tokenC)
	require.NoError(t, err)
	assert.True(t, rec.Ready)
	// The live weight starts at the floor so the effective pricing
	// carries over without a jump.
	assert.True(t, rec.Weight.Equal(MinWeight))
	assert.True(t, f.pool.TotalDenormalizedWeight().Equal(dec("20").Add(MinWeight)))
}

func TestWeightMigrationIncrease(t *testing.T) {
	f := newInitializedFixture(t, dec("0.1"))
	require.NoError(t, f.pool.Bind(tokenC, dec("5"), amt(50)))

	_, err := f.pool.SwapExactAmountIn(bob, tokenC, amt(25), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(25), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	rec, err := f.pool.RecordOf(tokenC)
	require.NoError(t, err)
	require.True(t, rec.Ready)

	// Within the hour the weight must not move again.
	_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(10), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	rec, _ = f.pool.RecordOf(tokenC)
	assert.True(t, rec.Weight.Equal(MinWeight))

	// One period later a single step of weight*(1+fee/2) applies.
	f.advance(time.Hour)
	_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(10), tokenA, sdkmath.ZeroInt())
	require.NoError(t, err)
	rec, _ = f.pool.RecordOf(tokenC)
	step := MinWeight.Mul(dec("1.05"))
	assert.True(t, rec.Weight.Equal(step), "weight %s expected %s", rec.Weight, step)

	// Keep swapping with hourly gaps: the weight converges to the
	// desired weight and never overshoots it, and the total stays the
	// sum of live weights.
	for i := 0; i < 120; i++ {
		f.advance(time.Hour)
		_, err = f.pool.SwapExactAmountIn(bob, tokenC, amt(10), tokenA, sdkmath.ZeroInt())
		require.NoError(t, err)
		rec, _ = f.pool.RecordOf(tokenC)
		assert.True(t, rec.Weight.LTE(dec("5")), "overshoot at step %d: %s", i, rec.Weight)
	}
	rec, _ = f.pool.RecordOf(tokenC)
	assert.True(t, rec.Weight.Equal(dec("5")))

	recA, _ := f.pool.RecordOf(tokenA)
	recB, _ := f.pool.RecordOf(tokenB)
	sum := recA.Weight.Add(recB.Weight).Add(rec.Weight)
	assert.True(t, f.pool.TotalDenormalizedWeight().Equal(sum))
}

func TestWeightMigrationDecreaseAndUnbind(t *testing.T) {
	f := newInitializedFixture(t, dec("0.1"))
	require.NoError(t, f.pool.SetDesiredWeight(tokenB, sdkmath.LegacyZeroDec()))

	for i := 0; i < 200 && f.pool.IsBound(tokenB); i++ {
		f.advance(time.Hour)
		_, err := f.pool.SwapExactAmountOut(bob, tokenA, sdkmath.Int{}, tokenB, amt(1).QuoRaw(1000))
		require.NoError(t, err)
	}

	require.False(t, f.pool.IsBound(tokenB), "weight decay must end in removal")
	require.Len(t, f.handler.calls, 1, "unbind handler must fire exactly once")
	assert.Equal(t, tokenB, f.handler.calls[0].token)
	assert.True(t, f.handler.calls[0].amount.IsPositive())

	// Residual custody moved to the handler in full.
	assert.True(t, f.ledger.BalanceOf(tokenB, poolAddr).IsZero())
	assert.True(t, f.ledger.BalanceOf(tokenB, f.handler.addr).Equal(f.handler.calls[0].amount))

	assert.Equal(t, []common.Address{tokenA}, f.pool.CurrentTokens())
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, f.pool.TotalDenormalizedWeight().Equal(recA.Weight))

	_, err := f.pool.SwapExactAmountIn(bob, tokenA, amt(1), tokenB, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestJoinAndExit(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	shares := InitialShares.QuoRaw(10)
	require.NoError(t, f.pool.JoinPool(bob, shares, []sdkmath.Int{amt(11), amt(21)}))

	assert.True(t, f.pool.ShareBalance(bob).Equal(shares))
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(110)))

	require.NoError(t, f.pool.ExitPool(bob, shares, []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()}))
	assert.True(t, f.pool.ShareBalance(bob).IsZero())
	assert.True(t, f.pool.TotalShares().Equal(InitialShares))

	// Rounding favors the pool: bob gets back at most his deposit.
	got := f.ledger.BalanceOf(tokenA, bob)
	assert.True(t, got.LTE(amt(1_000_000)))
	assert.True(t, got.GTE(amt(1_000_000).Sub(sdkmath.NewInt(10))))
}

func TestJoinLimitTooTight(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	err := f.pool.JoinPool(bob, InitialShares.QuoRaw(10), []sdkmath.Int{amt(5), amt(21)})
	assert.ErrorIs(t, err, ErrLimitIn)
	assert.True(t, f.pool.ShareBalance(bob).IsZero())
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(100)))
}

func TestJoinRatioBound(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	// Doubling the share supply would double every balance in one
	// transaction, far past the per-transaction input bound.
	err := f.pool.JoinPool(bob, InitialShares, []sdkmath.Int{sdkmath.Int{}, sdkmath.Int{}})
	assert.ErrorIs(t, err, ErrMaxInRatio)
	assert.True(t, f.pool.ShareBalance(bob).IsZero())
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(100)))
	assert.True(t, f.ledger.BalanceOf(tokenA, bob).Equal(amt(1_000_000)))
}

func TestExitRatioBound(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	// Burning half the supply would pull half of every balance out at
	// once, past the per-transaction output bound.
	err := f.pool.ExitPool(alice, InitialShares.QuoRaw(2), []sdkmath.Int{sdkmath.Int{}, sdkmath.Int{}})
	assert.ErrorIs(t, err, ErrMinOutRatio)
	assert.True(t, f.pool.ShareBalance(alice).Equal(InitialShares))
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(100)))
}

func TestExitSkipsNotReadyTokens(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))
	require.NoError(t, f.pool.Bind(tokenC, dec("5"), amt(50)))

	shares := InitialShares.QuoRaw(10)
	require.NoError(t, f.pool.JoinPool(bob, shares, []sdkmath.Int{amt(11), amt(21), amt(1)}))

	require.NoError(t, f.pool.ExitPool(bob, shares, []sdkmath.Int{
		sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(),
	}))

	// The not-ready token kept its (zero) balance and stayed bound.
	rec, err := f.pool.RecordOf(tokenC)
	require.NoError(t, err)
	assert.True(t, rec.Balance.IsZero())
	assert.False(t, rec.Ready)
}

func TestExitInsufficientShares(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	err := f.pool.ExitPool(bob, amt(1), []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()})
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestGulpBoundToken(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	// Tokens sent directly to the pool are invisible until gulped.
	require.NoError(t, f.ledger.Transfer(tokenA, bob, poolAddr, amt(7)))
	recA, _ := f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(100)))

	require.NoError(t, f.pool.Gulp(tokenA))
	recA, _ = f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(107)))

	require.NoError(t, f.pool.Gulp(tokenA))
	recA, _ = f.pool.RecordOf(tokenA)
	assert.True(t, recA.Balance.Equal(amt(107)), "second gulp must be a no-op")
}

func TestGulpSeedsNotReadyToken(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))
	require.NoError(t, f.pool.Bind(tokenC, dec("5"), amt(50)))

	require.NoError(t, f.ledger.Transfer(tokenC, bob, poolAddr, amt(60)))
	require.NoError(t, f.pool.Gulp(tokenC))

	rec, _ := f.pool.RecordOf(tokenC)
	assert.True(t, rec.Ready)
	assert.True(t, rec.Weight.Equal(MinWeight))
}

func TestGulpUnboundTokenRoutesToHandler(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	require.NoError(t, f.ledger.Transfer(tokenC, bob, poolAddr, amt(9)))
	require.NoError(t, f.pool.Gulp(tokenC))

	require.Len(t, f.handler.calls, 1)
	assert.Equal(t, tokenC, f.handler.calls[0].token)
	assert.True(t, f.handler.calls[0].amount.Equal(amt(9)))
	assert.True(t, f.ledger.BalanceOf(tokenC, poolAddr).IsZero())

	require.NoError(t, f.pool.Gulp(tokenC))
	assert.Len(t, f.handler.calls, 1, "empty gulp must not fire the handler again")
}

func TestGulpUnboundHandlerFailureRollsBack(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))
	f.handler.fail = true

	require.NoError(t, f.ledger.Transfer(tokenC, bob, poolAddr, amt(9)))
	err := f.pool.Gulp(tokenC)
	require.Error(t, err)

	assert.True(t, f.ledger.BalanceOf(tokenC, poolAddr).Equal(amt(9)),
		"custody must return to the pool when the handler rejects")
}

func TestBindValidation(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	assert.ErrorIs(t, f.pool.Bind(tokenA, dec("5"), amt(50)), ErrAlreadyBound)
	assert.ErrorIs(t, f.pool.Bind(tokenC, dec("0.1"), amt(50)), ErrBelowMinWeight)
	assert.ErrorIs(t, f.pool.Bind(tokenC, dec("26"), amt(50)), ErrAboveMaxWeight)
	assert.ErrorIs(t, f.pool.Bind(tokenC, dec("5"), sdkmath.ZeroInt()), ErrInvalidAmount)
}

func TestSetDesiredWeightValidation(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	assert.ErrorIs(t, f.pool.SetDesiredWeight(tokenC, dec("5")), ErrNotBound)
	assert.ErrorIs(t, f.pool.SetDesiredWeight(tokenA, dec("0.1")), ErrBelowMinWeight)
	assert.ErrorIs(t, f.pool.SetDesiredWeight(tokenA, dec("30")), ErrAboveMaxWeight)
	assert.NoError(t, f.pool.SetDesiredWeight(tokenA, sdkmath.LegacyZeroDec()),
		"zero marks the token for removal")
}

func TestSetSwapFeeBounds(t *testing.T) {
	f := newInitializedFixture(t, dec("0.003"))

	assert.ErrorIs(t, f.pool.SetSwapFee(dec("0.5")), ErrInvalidFee)
	assert.ErrorIs(t, f.pool.SetSwapFee(sdkmath.LegacyZeroDec()), ErrInvalidFee)
	assert.NoError(t, f.pool.SetSwapFee(dec("0.01")))
	assert.True(t, f.pool.SwapFee().Equal(dec("0.01")))
}
