/*

Time-weighted average price oracle.

Each token gets an append-only series of cumulative-price observations sampled
from its liquidity venue. Averages are the difference of two cumulative
samples divided by elapsed time, so a manipulated instantaneous price has to
be held for the whole window to move the average. Accumulators wrap modulo
2^224 and differences stay correct across the wrap.

*/

package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openweight/simm/internal/fixedpoint"
)

var (
	ErrRateLimited         = errors.New("oracle: price updated too recently")
	ErrInsufficientHistory = errors.New("oracle: not enough observation history")
	ErrStalePrice          = errors.New("oracle: latest observation too old")
	ErrInvalidWindow       = errors.New("oracle: invalid elapsed window")
	ErrNonMonotonicSample  = errors.New("oracle: venue timestamp not after last observation")
)

const (
	// DefaultUpdatePeriod is the minimum spacing between observations per token.
	DefaultUpdatePeriod = 24 * time.Hour
	// DefaultRetention bounds how long old observations are kept.
	DefaultRetention = 14 * 24 * time.Hour
)

// CumulativeSource is the token's liquidity venue: it exposes the running
// cumulative price accumulators for both directions of the pair, advanced to
// the returned timestamp.
type CumulativeSource interface {
	CurrentCumulativePrices(token common.Address) (price, refPrice *uint256.Int, ts time.Time, err error)
}

// Observation is a single immutable cumulative-price sample.
type Observation struct {
	PriceCumulative    *uint256.Int // token -> reference, UQ112x112-seconds, mod 2^224
	RefPriceCumulative *uint256.Int // reference -> token
	Timestamp          time.Time
}

// TwoWayAveragePrice pairs the reciprocal averages over one window. It is
// derived on demand, never stored.
type TwoWayAveragePrice struct {
	PriceAverage    fixedpoint.UQ112x112 // reference units per token unit
	RefPriceAverage fixedpoint.UQ112x112 // token units per reference unit
}

// Config holds the dependencies for constructing an Oracle.
type Config struct {
	Source       CumulativeSource
	UpdatePeriod time.Duration // zero means DefaultUpdatePeriod
	Retention    time.Duration // zero means DefaultRetention
}

// Oracle owns the per-token observation series. It is the sole writer of that
// state; execution is serialized by the surrounding transaction order.
type Oracle struct {
	source       CumulativeSource
	updatePeriod time.Duration
	retention    time.Duration
	observations map[common.Address][]Observation
	now          func() time.Time
}

// New constructs an Oracle.
func New(cfg Config) (*Oracle, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("oracle: cumulative source cannot be nil")
	}
	if cfg.UpdatePeriod == 0 {
		cfg.UpdatePeriod = DefaultUpdatePeriod
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.UpdatePeriod < 0 || cfg.Retention < cfg.UpdatePeriod {
		return nil, fmt.Errorf("oracle: retention %s shorter than update period %s", cfg.Retention, cfg.UpdatePeriod)
	}
	return &Oracle{
		source:       cfg.Source,
		updatePeriod: cfg.UpdatePeriod,
		retention:    cfg.Retention,
		observations: make(map[common.Address][]Observation),
		now:          time.Now,
	}, nil
}

// UpdatePrice appends a fresh observation for the token. Calls inside the
// update period are rejected with ErrRateLimited, not silently accepted.
// The period is measured in venue time, the same clock the observations
// are stamped in, so local clock skew cannot shrink the window.
func (o *Oracle) UpdatePrice(token common.Address) error {
	price, refPrice, ts, err := o.source.CurrentCumulativePrices(token)
	if err != nil {
		return fmt.Errorf("oracle: venue read for %s: %w", token.Hex(), err)
	}
	series := o.observations[token]
	if n := len(series); n > 0 {
		last := series[n-1].Timestamp
		if !ts.After(last) {
			return fmt.Errorf("%w: token %s", ErrNonMonotonicSample, token.Hex())
		}
		if ts.Sub(last) < o.updatePeriod {
			return fmt.Errorf("%w: token %s", ErrRateLimited, token.Hex())
		}
	}

	obs := Observation{
		PriceCumulative:    fixedpoint.Mask224(price),
		RefPriceCumulative: fixedpoint.Mask224(refPrice),
		Timestamp:          ts,
	}
	o.observations[token] = o.prune(append(series, obs))
	return nil
}

// UpdatePrices runs UpdatePrice for every token and reports the per-token
// outcome positionally. A failed element never hides behind a succeeded one.
func (o *Oracle) UpdatePrices(tokens []common.Address) []error {
	errs := make([]error, len(tokens))
	for i, token := range tokens {
		errs[i] = o.UpdatePrice(token)
	}
	return errs
}

// ComputeTwoWayAveragePrice derives both direction averages from the most
// recent observation and the most recent one at least minElapsed before it.
func (o *Oracle) ComputeTwoWayAveragePrice(token common.Address, minElapsed, maxElapsed time.Duration) (TwoWayAveragePrice, error) {
	latest, prev, err := o.window(token, minElapsed, maxElapsed)
	if err != nil {
		return TwoWayAveragePrice{}, err
	}
	elapsed := uint64(latest.Timestamp.Sub(prev.Timestamp) / time.Second)

	priceAvg, err := fixedpoint.FromCumulativeDelta(
		fixedpoint.WrapSub224(latest.PriceCumulative, prev.PriceCumulative), elapsed)
	if err != nil {
		return TwoWayAveragePrice{}, fmt.Errorf("oracle: average price for %s: %w", token.Hex(), err)
	}
	refAvg, err := fixedpoint.FromCumulativeDelta(
		fixedpoint.WrapSub224(latest.RefPriceCumulative, prev.RefPriceCumulative), elapsed)
	if err != nil {
		return TwoWayAveragePrice{}, fmt.Errorf("oracle: average ref price for %s: %w", token.Hex(), err)
	}
	return TwoWayAveragePrice{PriceAverage: priceAvg, RefPriceAverage: refAvg}, nil
}

// ComputeTwoWayAveragePrices is the batch variant. Results and errors align
// positionally with the input; the caller decides whether partial results are
// acceptable.
func (o *Oracle) ComputeTwoWayAveragePrices(tokens []common.Address, minElapsed, maxElapsed time.Duration) ([]TwoWayAveragePrice, []error) {
	prices := make([]TwoWayAveragePrice, len(tokens))
	errs := make([]error, len(tokens))
	for i, token := range tokens {
		prices[i], errs[i] = o.ComputeTwoWayAveragePrice(token, minElapsed, maxElapsed)
	}
	return prices, errs
}

// ComputeAverageTokenPrice returns only the token->reference average.
func (o *Oracle) ComputeAverageTokenPrice(token common.Address, minElapsed, maxElapsed time.Duration) (fixedpoint.UQ112x112, error) {
	two, err := o.ComputeTwoWayAveragePrice(token, minElapsed, maxElapsed)
	if err != nil {
		return fixedpoint.UQ112x112{}, err
	}
	return two.PriceAverage, nil
}

// ComputeAverageRefPrice returns only the reference->token average.
func (o *Oracle) ComputeAverageRefPrice(token common.Address, minElapsed, maxElapsed time.Duration) (fixedpoint.UQ112x112, error) {
	two, err := o.ComputeTwoWayAveragePrice(token, minElapsed, maxElapsed)
	if err != nil {
		return fixedpoint.UQ112x112{}, err
	}
	return two.RefPriceAverage, nil
}

// LatestObservation exposes the newest sample for status reporting.
func (o *Oracle) LatestObservation(token common.Address) (Observation, bool) {
	series := o.observations[token]
	if len(series) == 0 {
		return Observation{}, false
	}
	return series[len(series)-1], true
}

// ObservationCount reports the retained series length for a token.
func (o *Oracle) ObservationCount(token common.Address) int {
	return len(o.observations[token])
}

// window locates (latest, prev) for an averaging query.
func (o *Oracle) window(token common.Address, minElapsed, maxElapsed time.Duration) (Observation, Observation, error) {
	if minElapsed <= 0 || maxElapsed <= minElapsed {
		return Observation{}, Observation{}, ErrInvalidWindow
	}
	series := o.observations[token]
	if len(series) == 0 {
		return Observation{}, Observation{}, fmt.Errorf("%w: token %s has no observations", ErrInsufficientHistory, token.Hex())
	}
	latest := series[len(series)-1]
	if o.now().Sub(latest.Timestamp) > maxElapsed {
		return Observation{}, Observation{}, fmt.Errorf("%w: token %s", ErrStalePrice, token.Hex())
	}
	for i := len(series) - 2; i >= 0; i-- {
		if latest.Timestamp.Sub(series[i].Timestamp) >= minElapsed {
			return latest, series[i], nil
		}
	}
	return Observation{}, Observation{}, fmt.Errorf("%w: token %s has no observation older than %s", ErrInsufficientHistory, token.Hex(), minElapsed)
}

// prune drops observations past the retention horizon but always keeps the
// two newest so averaging stays possible.
func (o *Oracle) prune(series []Observation) []Observation {
	cutoff := o.now().Add(-o.retention)
	first := 0
	for first < len(series)-2 && series[first].Timestamp.Before(cutoff) {
		first++
	}
	if first == 0 {
		return series
	}
	kept := make([]Observation, len(series)-first)
	copy(kept, series[first:])
	return kept
}
