/*

Fixed-point arithmetic used by the price oracle and everything downstream of it.

Values are unsigned Q112.112: 224 bits total, 112 fractional. Every multiply is
overflow-checked and fails loudly instead of wrapping, because these numbers
carry money. Division is expressed as reciprocal-then-multiply; chaining a
naive divide after a multiply compounds truncation error across the long
computations the rebalancer performs, the reciprocal form keeps the error to a
single truncation.

Cumulative price accumulators are the one deliberate exception: they live in
the same 224-bit domain but wrap modulo 2^224, and differences remain correct
across the wrap boundary. Use WrapAdd224/WrapSub224 for those, never Mul.

*/

package fixedpoint

import (
	"errors"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/holiman/uint256"
)

// FractionBits is the number of fractional bits in the representation.
const FractionBits = 112

var (
	ErrOverflow       = errors.New("fixedpoint: value overflows 224 bits")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegative       = errors.New("fixedpoint: negative value")
)

// q224 = 2^224, the modulus of the representation.
var q224 = new(big.Int).Lsh(big.NewInt(1), 224)

// mask224 keeps the low 224 bits of a uint256.
var mask224 = func() *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), 224)
	return m.SubUint64(m, 1)
}()

// UQ112x112 is an unsigned fixed-point number with 112 fractional bits.
type UQ112x112 struct {
	raw uint256.Int
}

// Zero returns the zero value.
func Zero() UQ112x112 { return UQ112x112{} }

// One returns the fixed-point encoding of 1.
func One() UQ112x112 {
	var q UQ112x112
	q.raw.Lsh(uint256.NewInt(1), FractionBits)
	return q
}

// FromRaw wraps an already-encoded 224-bit value.
func FromRaw(raw *uint256.Int) (UQ112x112, error) {
	if raw == nil {
		return UQ112x112{}, nil
	}
	if raw.BitLen() > 224 {
		return UQ112x112{}, ErrOverflow
	}
	var q UQ112x112
	q.raw.Set(raw)
	return q, nil
}

// FromFraction encodes num/den. Both operands must be non-negative and den
// must be non-zero.
func FromFraction(num, den sdkmath.Int) (UQ112x112, error) {
	if num.IsNil() || den.IsNil() || num.IsNegative() || den.IsNegative() {
		return UQ112x112{}, ErrNegative
	}
	if den.IsZero() {
		return UQ112x112{}, ErrDivisionByZero
	}
	shifted := new(big.Int).Lsh(num.BigInt(), FractionBits)
	shifted.Quo(shifted, den.BigInt())
	if shifted.BitLen() > 224 {
		return UQ112x112{}, ErrOverflow
	}
	var q UQ112x112
	q.raw.SetFromBig(shifted)
	return q, nil
}

// FromCumulativeDelta decodes an average from a wrapped accumulator
// difference and the elapsed seconds between the two samples.
func FromCumulativeDelta(delta *uint256.Int, elapsedSeconds uint64) (UQ112x112, error) {
	if elapsedSeconds == 0 {
		return UQ112x112{}, ErrDivisionByZero
	}
	avg := new(uint256.Int).Div(delta, uint256.NewInt(elapsedSeconds))
	return FromRaw(avg)
}

// Raw returns a copy of the underlying 224-bit value.
func (q UQ112x112) Raw() *uint256.Int {
	return new(uint256.Int).Set(&q.raw)
}

// IsZero reports whether the value is exactly zero.
func (q UQ112x112) IsZero() bool { return q.raw.IsZero() }

// Cmp compares q against o, returning -1, 0 or 1.
func (q UQ112x112) Cmp(o UQ112x112) int { return q.raw.Cmp(&o.raw) }

// Add returns q+o, failing on overflow past 224 bits.
func (q UQ112x112) Add(o UQ112x112) (UQ112x112, error) {
	var sum uint256.Int
	if _, carry := sum.AddOverflow(&q.raw, &o.raw); carry {
		return UQ112x112{}, ErrOverflow
	}
	return FromRaw(&sum)
}

// Mul returns q*o. The 448-bit intermediate is carried in a big.Int so the
// overflow check sees the true product.
func (q UQ112x112) Mul(o UQ112x112) (UQ112x112, error) {
	product := new(big.Int).Mul(q.raw.ToBig(), o.raw.ToBig())
	product.Rsh(product, FractionBits)
	if product.BitLen() > 224 {
		return UQ112x112{}, ErrOverflow
	}
	var out UQ112x112
	out.raw.SetFromBig(product)
	return out, nil
}

// MulInt multiplies the fraction by an integer amount and truncates to the
// wider integer domain. This is the decode path for every monetary
// computation: price * amount, price * supply.
func (q UQ112x112) MulInt(amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || amount.IsNegative() {
		return sdkmath.Int{}, ErrNegative
	}
	product := new(big.Int).Mul(q.raw.ToBig(), amount.BigInt())
	product.Rsh(product, FractionBits)
	if product.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.Int{}, ErrOverflow
	}
	return sdkmath.NewIntFromBigInt(product), nil
}

// Reciprocal returns 1/q. Fails for zero and for values so small the result
// leaves the representable range.
func (q UQ112x112) Reciprocal() (UQ112x112, error) {
	if q.raw.IsZero() {
		return UQ112x112{}, ErrDivisionByZero
	}
	out := new(big.Int).Quo(q224, q.raw.ToBig())
	if out.BitLen() > 224 {
		return UQ112x112{}, ErrOverflow
	}
	var r UQ112x112
	r.raw.SetFromBig(out)
	return r, nil
}

// Decode truncates to the integer part.
func (q UQ112x112) Decode() sdkmath.Int {
	trunc := new(uint256.Int).Rsh(&q.raw, FractionBits)
	return sdkmath.NewIntFromBigInt(trunc.ToBig())
}

// BigRat returns the exact rational value, mainly for logs and tests.
func (q UQ112x112) BigRat() *big.Rat {
	return new(big.Rat).SetFrac(q.raw.ToBig(), new(big.Int).Lsh(big.NewInt(1), FractionBits))
}

// String renders the value as a decimal with 18 places.
func (q UQ112x112) String() string {
	return q.BigRat().FloatString(18)
}

// Mask224 returns a copy of x reduced modulo 2^224.
func Mask224(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).And(x, mask224)
}

// WrapAdd224 returns (a+b) mod 2^224. Used to advance cumulative price
// accumulators, which wrap by design.
func WrapAdd224(a, b *uint256.Int) *uint256.Int {
	sum := new(uint256.Int).Add(a, b)
	return sum.And(sum, mask224)
}

// WrapSub224 returns (a-b) mod 2^224. Differences of cumulative accumulators
// stay correct across a wrap of the fixed-width counter; widening the type
// here would change observable behaviour at the boundary.
func WrapSub224(a, b *uint256.Int) *uint256.Int {
	diff := new(uint256.Int).Sub(a, b)
	return diff.And(diff, mask224)
}
