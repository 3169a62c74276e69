/*

Orchestrator drives the index's two rebalance cycles.

Reweigh runs hourly: it recomputes desired weights for the current
constituents from the square roots of their time-averaged market caps and
refreshes the seeding targets of not-ready tokens. Reindex runs on a much
longer period: it re-sorts the category by market cap, diffs the top-n
against the pool, binds newcomers with a minimum balance of one percent of
the pool's extrapolated value, and schedules leavers out by setting their
desired weight to zero.

Neither cycle moves balances directly. The pool migrates toward the
written targets lazily as swaps come in.

*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openweight/simm/internal/category"
	"github.com/openweight/simm/internal/fixedpoint"
	"github.com/openweight/simm/internal/logger"
	"github.com/openweight/simm/internal/metrics"
	"github.com/openweight/simm/internal/pool"
	"github.com/openweight/simm/internal/types"
)

var (
	ErrRateLimited          = errors.New("orchestrator: cycle ran too recently")
	ErrPoolValueUnavailable = errors.New("orchestrator: no priced liquidity to extrapolate pool value from")
	ErrNoViableTargets      = errors.New("orchestrator: no token had a usable market cap")
)

const (
	DefaultReweighPeriod = time.Hour
	DefaultReindexPeriod = 14 * 24 * time.Hour

	// TWAP window accepted when valuing tokens.
	DefaultMinPriceAge = 12 * time.Hour
	DefaultMaxPriceAge = 48 * time.Hour

	// Newly bound tokens must be seeded up to this share of the pool's
	// extrapolated value before they become tradable outbound.
	minimumBalanceDivisor = 100
)

// DefaultTotalWeight is the denormalized weight distributed across
// constituents, kept below the pool cap so migration steps have headroom.
var DefaultTotalWeight = sdkmath.LegacyNewDec(25)

// IndexPool is the slice of the pool surface the orchestrator drives.
type IndexPool interface {
	CurrentTokens() []common.Address
	RecordOf(token common.Address) (pool.Record, error)
	Bind(token common.Address, desiredWeight sdkmath.LegacyDec, minimumBalance sdkmath.Int) error
	SetDesiredWeight(token common.Address, desired sdkmath.LegacyDec) error
	SetMinimumBalance(token common.Address, minimum sdkmath.Int) error
}

// PriceFeed provides time-averaged prices in the reference asset.
type PriceFeed interface {
	UpdatePrices(tokens []common.Address) []error
	ComputeAverageTokenPrice(token common.Address, minElapsed, maxElapsed time.Duration) (fixedpoint.UQ112x112, error)
}

// MarketRegistry exposes the category the index tracks.
type MarketRegistry interface {
	Tokens(id types.CategoryID) ([]common.Address, error)
	ComputeAverageMarketCaps(tokens []common.Address) ([]sdkmath.Int, []error)
	OrderTokensByMarketCap(id types.CategoryID, proposed []common.Address) error
	GetTopTokens(id types.CategoryID, n int) ([]common.Address, error)
}

// SnapshotSink persists the outcome of each cycle.
type SnapshotSink interface {
	IncrementCycleNumber() (int, error)
	SaveRebalanceSnapshot(snap types.RebalanceSnapshot) error
}

type Config struct {
	Pool     IndexPool
	Oracle   PriceFeed
	Registry MarketRegistry
	// Sink may be nil; cycles then run without persistence.
	Sink SnapshotSink

	CategoryID types.CategoryID
	IndexSize  int

	// Symbols maps addresses to display symbols for snapshots. Missing
	// entries fall back to the hex address.
	Symbols map[common.Address]string

	TotalWeight   sdkmath.LegacyDec
	ReweighPeriod time.Duration
	ReindexPeriod time.Duration
	MinPriceAge   time.Duration
	MaxPriceAge   time.Duration
}

func (c *Config) applyDefaults() error {
	if c.Pool == nil || c.Oracle == nil || c.Registry == nil {
		return fmt.Errorf("orchestrator: pool, oracle and registry are required")
	}
	if c.IndexSize < 2 {
		return fmt.Errorf("orchestrator: index size must be at least 2, got %d", c.IndexSize)
	}
	if c.TotalWeight.IsNil() || c.TotalWeight.IsZero() {
		c.TotalWeight = DefaultTotalWeight
	}
	if c.ReweighPeriod == 0 {
		c.ReweighPeriod = DefaultReweighPeriod
	}
	if c.ReindexPeriod == 0 {
		c.ReindexPeriod = DefaultReindexPeriod
	}
	if c.MinPriceAge == 0 {
		c.MinPriceAge = DefaultMinPriceAge
	}
	if c.MaxPriceAge == 0 {
		c.MaxPriceAge = DefaultMaxPriceAge
	}
	return nil
}

type Orchestrator struct {
	log zerolog.Logger
	cfg Config

	lastReweigh time.Time
	lastReindex time.Time

	// fallback cycle counter when no sink is configured
	cycleNumber int

	now func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		log: logger.GetForComponent("orchestrator"),
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Reweigh recomputes desired weights for the current constituents. Tokens
// whose market cap cannot be computed keep their previous target.
func (o *Orchestrator) Reweigh() error {
	if !o.lastReweigh.IsZero() && o.now().Sub(o.lastReweigh) < o.cfg.ReweighPeriod {
		return ErrRateLimited
	}

	cycleID := uuid.New().String()
	start := o.now()
	log := o.log.With().Str("cycle_id", cycleID).Str("kind", string(types.CycleReweigh)).Logger()
	log.Info().Msg("=== Starting reweigh cycle ===")

	tokens := o.cfg.Pool.CurrentTokens()
	o.refreshPrices(log, tokens)

	ready, pending := o.partition(tokens)

	caps, errs := o.cfg.Registry.ComputeAverageMarketCaps(ready)
	viable := make([]common.Address, 0, len(ready))
	viableCaps := make([]sdkmath.Int, 0, len(ready))
	for i, token := range ready {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("token", token.Hex()).Msg("Market cap unavailable, keeping previous target")
			continue
		}
		viable = append(viable, token)
		viableCaps = append(viableCaps, caps[i])
	}
	if len(viable) == 0 {
		return ErrNoViableTargets
	}

	targets, err := computeTargets(viableCaps, o.cfg.TotalWeight)
	if err != nil {
		return err
	}
	snapTargets := make([]types.TokenTarget, 0, len(viable))
	for i, token := range viable {
		if err := o.cfg.Pool.SetDesiredWeight(token, targets[i]); err != nil {
			log.Warn().Err(err).Str("token", token.Hex()).Msg("Failed to set desired weight")
			continue
		}
		snapTargets = append(snapTargets, o.target(token, viableCaps[i], targets[i]))
	}

	poolValue := o.refreshMinimumBalances(log, pending)

	o.lastReweigh = o.now()
	o.persist(log, types.RebalanceSnapshot{
		CycleID:   cycleID,
		Kind:      types.CycleReweigh,
		Timestamp: start,
		Targets:   snapTargets,
		PoolValue: poolValue.String(),
		Duration:  o.now().Sub(start),
	})
	o.observeCycle(types.CycleReweigh, start)
	log.Info().Int("targets", len(snapTargets)).Msg("=== Reweigh cycle complete ===")
	return nil
}

// Reindex re-sorts the category, swaps the pool's membership against the
// top-n, and retargets weights for the new composition.
func (o *Orchestrator) Reindex() error {
	if !o.lastReindex.IsZero() && o.now().Sub(o.lastReindex) < o.cfg.ReindexPeriod {
		return ErrRateLimited
	}

	cycleID := uuid.New().String()
	start := o.now()
	log := o.log.With().Str("cycle_id", cycleID).Str("kind", string(types.CycleReindex)).Logger()
	log.Info().Msg("=== Starting reindex cycle ===")

	universe, err := o.cfg.Registry.Tokens(o.cfg.CategoryID)
	if err != nil {
		return fmt.Errorf("orchestrator: listing category: %w", err)
	}
	o.refreshPrices(log, universe)

	capByToken, err := o.sortCategory(log, universe)
	if err != nil {
		return err
	}

	top, err := o.cfg.Registry.GetTopTokens(o.cfg.CategoryID, o.cfg.IndexSize)
	if err != nil {
		return fmt.Errorf("orchestrator: top tokens: %w", err)
	}

	current := o.cfg.Pool.CurrentTokens()
	inTop := make(map[common.Address]bool, len(top))
	for _, t := range top {
		inTop[t] = true
	}
	inPool := make(map[common.Address]bool, len(current))
	for _, t := range current {
		inPool[t] = true
	}

	topCaps := make([]sdkmath.Int, len(top))
	for i, t := range top {
		topCaps[i] = capByToken[t]
	}
	targets, err := computeTargets(topCaps, o.cfg.TotalWeight)
	if err != nil {
		return err
	}

	poolValue, err := o.extrapolatedPoolValue()
	if err != nil {
		return err
	}
	seedValue := poolValue.QuoRaw(minimumBalanceDivisor)

	var added, removed []string
	snapTargets := make([]types.TokenTarget, 0, len(top))

	for i, token := range top {
		if inPool[token] {
			if err := o.cfg.Pool.SetDesiredWeight(token, targets[i]); err != nil {
				log.Warn().Err(err).Str("token", token.Hex()).Msg("Failed to retarget constituent")
				continue
			}
		} else {
			minBalance, err := o.tokenAmountForValue(token, seedValue)
			if err != nil {
				log.Warn().Err(err).Str("token", token.Hex()).Msg("Cannot price newcomer, skipping bind")
				continue
			}
			if err := o.cfg.Pool.Bind(token, targets[i], minBalance); err != nil {
				log.Warn().Err(err).Str("token", token.Hex()).Msg("Failed to bind newcomer")
				continue
			}
			added = append(added, token.Hex())
			log.Info().
				Str("token", token.Hex()).
				Str("desired_weight", targets[i].String()).
				Str("minimum_balance", minBalance.String()).
				Msg("Bound newcomer")
		}
		snapTargets = append(snapTargets, o.target(token, topCaps[i], targets[i]))
	}

	for _, token := range current {
		if inTop[token] {
			continue
		}
		if err := o.cfg.Pool.SetDesiredWeight(token, sdkmath.LegacyZeroDec()); err != nil {
			log.Warn().Err(err).Str("token", token.Hex()).Msg("Failed to schedule removal")
			continue
		}
		removed = append(removed, token.Hex())
		log.Info().Str("token", token.Hex()).Msg("Scheduled constituent for removal")
	}

	o.lastReindex = o.now()
	o.lastReweigh = o.now()
	o.persist(log, types.RebalanceSnapshot{
		CycleID:   cycleID,
		Kind:      types.CycleReindex,
		Timestamp: start,
		Targets:   snapTargets,
		Added:     added,
		Removed:   removed,
		PoolValue: poolValue.String(),
		Duration:  o.now().Sub(start),
	})
	o.observeCycle(types.CycleReindex, start)
	log.Info().
		Int("targets", len(snapTargets)).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Msg("=== Reindex cycle complete ===")
	return nil
}

func (o *Orchestrator) observeCycle(kind types.CycleKind, start time.Time) {
	metrics.RebalanceCycles.WithLabelValues(string(kind)).Inc()
	metrics.RebalanceCycleDuration.WithLabelValues(string(kind)).Observe(o.now().Sub(start).Seconds())
	metrics.PoolConstituents.Set(float64(len(o.cfg.Pool.CurrentTokens())))
}

// RunLoop ticks on the reweigh period and promotes a tick to a reindex
// once its period has elapsed. Cycle failures are logged, never fatal.
func (o *Orchestrator) RunLoop(ctx context.Context) {
	o.log.Info().
		Dur("reweigh_period", o.cfg.ReweighPeriod).
		Dur("reindex_period", o.cfg.ReindexPeriod).
		Msg("Rebalance loop started")

	ticker := time.NewTicker(o.cfg.ReweighPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("Rebalance loop stopped")
			return
		case <-ticker.C:
			o.runScheduled()
		}
	}
}

func (o *Orchestrator) runScheduled() {
	if o.lastReindex.IsZero() || o.now().Sub(o.lastReindex) >= o.cfg.ReindexPeriod {
		if err := o.Reindex(); err != nil && !errors.Is(err, ErrRateLimited) {
			metrics.RebalanceFailures.WithLabelValues(string(types.CycleReindex)).Inc()
			o.log.Error().Err(err).Msg("Reindex cycle failed")
		}
		return
	}
	if err := o.Reweigh(); err != nil && !errors.Is(err, ErrRateLimited) {
		metrics.RebalanceFailures.WithLabelValues(string(types.CycleReweigh)).Inc()
		o.log.Error().Err(err).Msg("Reweigh cycle failed")
	}
}

// sortCategory computes caps for the whole category, submits a descending
// order, and returns the cap lookup. A recent prior sort is acceptable.
func (o *Orchestrator) sortCategory(log zerolog.Logger, universe []common.Address) (map[common.Address]sdkmath.Int, error) {
	caps, errs := o.cfg.Registry.ComputeAverageMarketCaps(universe)
	byToken := make(map[common.Address]sdkmath.Int, len(universe))
	for i, token := range universe {
		if errs[i] != nil {
			return nil, fmt.Errorf("orchestrator: market cap for %s: %w", token.Hex(), errs[i])
		}
		byToken[token] = caps[i]
	}

	proposed := make([]common.Address, len(universe))
	copy(proposed, universe)
	sort.SliceStable(proposed, func(i, j int) bool {
		return byToken[proposed[i]].GT(byToken[proposed[j]])
	})

	if err := o.cfg.Registry.OrderTokensByMarketCap(o.cfg.CategoryID, proposed); err != nil {
		// A sort inside the registry's own rate window is still fresh.
		if !errors.Is(err, category.ErrRateLimited) {
			return nil, fmt.Errorf("orchestrator: sorting category: %w", err)
		}
		log.Debug().Msg("Category sorted recently, reusing stored order")
	}
	return byToken, nil
}

func (o *Orchestrator) refreshPrices(log zerolog.Logger, tokens []common.Address) {
	for i, err := range o.cfg.Oracle.UpdatePrices(tokens) {
		if err != nil {
			metrics.PriceUpdates.WithLabelValues("skipped").Inc()
			log.Debug().Err(err).Str("token", tokens[i].Hex()).Msg("Price update skipped")
		} else {
			metrics.PriceUpdates.WithLabelValues("ok").Inc()
		}
	}
}

// partition splits the pool's tokens into ready constituents and pending
// (not yet seeded) ones.
func (o *Orchestrator) partition(tokens []common.Address) (ready, pending []common.Address) {
	for _, token := range tokens {
		rec, err := o.cfg.Pool.RecordOf(token)
		if err != nil {
			continue
		}
		if rec.Ready {
			ready = append(ready, token)
		} else {
			pending = append(pending, token)
		}
	}
	return ready, pending
}

// refreshMinimumBalances revalues the seeding targets of pending tokens
// against the current pool value. Failures leave the old target in place.
func (o *Orchestrator) refreshMinimumBalances(log zerolog.Logger, pending []common.Address) sdkmath.Int {
	poolValue, err := o.extrapolatedPoolValue()
	if err != nil {
		log.Warn().Err(err).Msg("Pool value unavailable, keeping minimum balances")
		return sdkmath.ZeroInt()
	}
	seedValue := poolValue.QuoRaw(minimumBalanceDivisor)
	for _, token := range pending {
		minBalance, err := o.tokenAmountForValue(token, seedValue)
		if err != nil {
			log.Warn().Err(err).Str("token", token.Hex()).Msg("Cannot revalue minimum balance")
			continue
		}
		if err := o.cfg.Pool.SetMinimumBalance(token, minBalance); err != nil {
			log.Warn().Err(err).Str("token", token.Hex()).Msg("Failed to set minimum balance")
		}
	}
	return poolValue
}

// extrapolatedPoolValue sums balance times average price over the ready
// constituents, in reference-asset units.
func (o *Orchestrator) extrapolatedPoolValue() (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	priced := false
	for _, token := range o.cfg.Pool.CurrentTokens() {
		rec, err := o.cfg.Pool.RecordOf(token)
		if err != nil || !rec.Ready {
			continue
		}
		price, err := o.cfg.Oracle.ComputeAverageTokenPrice(token, o.cfg.MinPriceAge, o.cfg.MaxPriceAge)
		if err != nil {
			continue
		}
		value, err := price.MulInt(rec.Balance)
		if err != nil {
			continue
		}
		total = total.Add(value)
		priced = true
	}
	if !priced || total.IsZero() {
		return sdkmath.Int{}, ErrPoolValueUnavailable
	}
	return total, nil
}

// tokenAmountForValue converts a reference-asset value into token units
// at the token's average price.
func (o *Orchestrator) tokenAmountForValue(token common.Address, refValue sdkmath.Int) (sdkmath.Int, error) {
	price, err := o.cfg.Oracle.ComputeAverageTokenPrice(token, o.cfg.MinPriceAge, o.cfg.MaxPriceAge)
	if err != nil {
		return sdkmath.Int{}, err
	}
	inverse, err := price.Reciprocal()
	if err != nil {
		return sdkmath.Int{}, err
	}
	amount, err := inverse.MulInt(refValue)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !amount.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("orchestrator: seed amount for %s rounded to zero", token.Hex())
	}
	return amount, nil
}

func (o *Orchestrator) target(token common.Address, mcap sdkmath.Int, weight sdkmath.LegacyDec) types.TokenTarget {
	symbol, ok := o.cfg.Symbols[token]
	if !ok {
		symbol = token.Hex()
	}
	return types.TokenTarget{
		Symbol:        symbol,
		Address:       token.Hex(),
		MarketCap:     mcap.String(),
		DesiredWeight: weight.String(),
	}
}

func (o *Orchestrator) persist(log zerolog.Logger, snap types.RebalanceSnapshot) {
	if o.cfg.Sink == nil {
		o.cycleNumber++
		return
	}
	n, err := o.cfg.Sink.IncrementCycleNumber()
	if err != nil {
		log.Error().Err(err).Msg("Failed to increment cycle number")
		n = o.cycleNumber + 1
	}
	o.cycleNumber = n
	snap.CycleNumber = n
	if err := o.cfg.Sink.SaveRebalanceSnapshot(snap); err != nil {
		log.Error().Err(err).Msg("Failed to persist rebalance snapshot")
	}
}

// computeTargets distributes totalWeight across tokens in proportion to
// the square roots of their market caps, clamped to the pool's bounds.
// A cap small enough to truncate to zero contributes nothing to the sum;
// if every cap does, there is nothing to weight against.
func computeTargets(caps []sdkmath.Int, totalWeight sdkmath.LegacyDec) ([]sdkmath.LegacyDec, error) {
	sqrts := make([]sdkmath.Int, len(caps))
	sum := sdkmath.ZeroInt()
	for i, c := range caps {
		s := sdkmath.NewIntFromBigInt(new(big.Int).Sqrt(c.BigInt()))
		sqrts[i] = s
		sum = sum.Add(s)
	}
	if sum.IsZero() {
		return nil, ErrNoViableTargets
	}

	targets := make([]sdkmath.LegacyDec, len(caps))
	sumDec := sdkmath.LegacyNewDecFromInt(sum)
	for i, s := range sqrts {
		w := totalWeight.Mul(sdkmath.LegacyNewDecFromInt(s)).Quo(sumDec)
		if w.LT(pool.MinWeight) {
			w = pool.MinWeight
		}
		if w.GT(pool.MaxWeight) {
			w = pool.MaxWeight
		}
		targets[i] = w
	}
	return targets, nil
}
