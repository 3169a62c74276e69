package fixedpoint

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFromFractionAndDecode(t *testing.T) {
	q, err := FromFraction(sdkmath.NewInt(7), sdkmath.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, "3.500000000000000000", q.String())
	require.Equal(t, "3", q.Decode().String())
}

func TestFromFractionRejectsZeroDenominator(t *testing.T) {
	_, err := FromFraction(sdkmath.NewInt(1), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulIntTruncates(t *testing.T) {
	price, err := FromFraction(sdkmath.NewInt(3), sdkmath.NewInt(2)) // 1.5
	require.NoError(t, err)

	out, err := price.MulInt(sdkmath.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, "7", out.String()) // 7.5 truncated
}

func TestMulOverflowDetected(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 223)
	q, err := FromRaw(huge)
	require.NoError(t, err)

	_, err = q.Mul(q)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestReciprocalRoundTrip(t *testing.T) {
	q, err := FromFraction(sdkmath.NewInt(4), sdkmath.NewInt(1))
	require.NoError(t, err)

	r, err := q.Reciprocal()
	require.NoError(t, err)
	require.Equal(t, "0.250000000000000000", r.String())

	back, err := r.Reciprocal()
	require.NoError(t, err)
	require.Equal(t, "4.000000000000000000", back.String())
}

func TestReciprocalOfZero(t *testing.T) {
	_, err := Zero().Reciprocal()
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestWrapSubAcrossBoundary(t *testing.T) {
	// a wrapped past 2^224, b sampled just before the wrap. The modular
	// difference must equal the true elapsed accumulation.
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), 224)
	mask.SubUint64(mask, 1)

	b := new(uint256.Int).Sub(mask, uint256.NewInt(9)) // 2^224 - 10
	a := WrapAdd224(b, uint256.NewInt(25))             // wraps to 15

	require.Equal(t, uint64(15), a.Uint64())
	require.Equal(t, uint64(25), WrapSub224(a, b).Uint64())
}

func TestFromCumulativeDelta(t *testing.T) {
	one := One()
	// accumulator advanced by price 2.0 over 100 seconds
	two, err := one.Add(one)
	require.NoError(t, err)
	delta := new(uint256.Int).Mul(two.Raw(), uint256.NewInt(100))

	avg, err := FromCumulativeDelta(delta, 100)
	require.NoError(t, err)
	require.Equal(t, 0, avg.Cmp(two))

	_, err = FromCumulativeDelta(delta, 0)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestBigRatExact(t *testing.T) {
	q, err := FromFraction(sdkmath.NewInt(1), sdkmath.NewInt(3))
	require.NoError(t, err)
	diff := new(big.Rat).Sub(big.NewRat(1, 3), q.BigRat())
	// truncation error bounded by one unit of the 112-bit fraction
	require.True(t, diff.Cmp(new(big.Rat).SetFrac(big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 112))) < 0)
}
