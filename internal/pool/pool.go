/*
Pool is the weighted-product market maker at the heart of the index.

Tokens enter through Bind in a not-ready state: they carry no live weight
and no balance, only a desired weight and a minimum balance. Until the
minimum balance is reached through swaps or gulps, the token is priced as
if it held exactly the minimum balance at the minimum weight, which makes
buying it into the pool attractive without letting anyone drain it. Once
seeded, the token flips to ready at the minimum weight and its live weight
migrates toward the desired weight in fee-bounded hourly steps applied
lazily during swaps. A token whose desired weight is zero decays to the
weight floor and is then removed, with its residual balance handed to the
unbind handler exactly once.

Every mutating entry point takes the reentrancy guard. Operations are
all-or-nothing: local state is checkpointed before mutation and restored,
with any completed ledger transfers reversed, if a later step fails.
*/
package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/openweight/simm/internal/logger"
)

// Ledger abstracts token custody. The pool never holds balances itself;
// it instructs the ledger and trusts BalanceOf for reconciliation.
type Ledger interface {
	Transfer(token, from, to common.Address, amount sdkmath.Int) error
	BalanceOf(token, holder common.Address) sdkmath.Int
}

// UnbindHandler receives the residual balance of a token that has been
// fully removed from the pool.
type UnbindHandler interface {
	Address() common.Address
	HandleUnbindToken(token common.Address, amount sdkmath.Int) error
}

// Record is the pool's per-token state.
type Record struct {
	Bound   bool
	Ready   bool
	Balance sdkmath.Int

	// Weight is the live denormalized weight used for pricing. It is
	// zero while the token is not ready.
	Weight        sdkmath.LegacyDec
	DesiredWeight sdkmath.LegacyDec

	// MinimumBalance is only meaningful while the token is not ready.
	MinimumBalance sdkmath.Int

	LastWeightUpdate time.Time
}

// InitialToken describes one constituent for Initialize.
type InitialToken struct {
	Token   common.Address
	Balance sdkmath.Int
	Weight  sdkmath.LegacyDec
}

// Config carries the pool's collaborators and starting parameters.
type Config struct {
	// Address is the pool's own identity on the ledger.
	Address       common.Address
	Ledger        Ledger
	UnbindHandler UnbindHandler
	SwapFee       sdkmath.LegacyDec
}

func (c Config) validate() error {
	if c.Ledger == nil {
		return fmt.Errorf("pool: ledger is required")
	}
	if c.UnbindHandler == nil {
		return fmt.Errorf("pool: unbind handler is required")
	}
	if c.SwapFee.IsNil() || c.SwapFee.LT(MinFee) || c.SwapFee.GT(MaxFee) {
		return ErrInvalidFee
	}
	return nil
}

// Pool is a single-goroutine state machine; callers serialize access. The
// reentrancy guard exists to catch collaborator callbacks that reenter,
// not to provide goroutine safety.
type Pool struct {
	log zerolog.Logger

	addr    common.Address
	ledger  Ledger
	unbind  UnbindHandler
	swapFee sdkmath.LegacyDec

	records map[common.Address]*Record
	tokens  []common.Address // bind order

	totalWeight sdkmath.LegacyDec

	shareSupply sdkmath.Int
	shares      map[common.Address]sdkmath.Int

	initialized bool
	locked      bool

	now func() time.Time
}

// New builds an uninitialized pool. Initialize must run before any other
// mutating operation.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Pool{
		log:         logger.GetForComponent("pool"),
		addr:        cfg.Address,
		ledger:      cfg.Ledger,
		unbind:      cfg.UnbindHandler,
		swapFee:     cfg.SwapFee,
		records:     make(map[common.Address]*Record),
		totalWeight: sdkmath.LegacyZeroDec(),
		shareSupply: sdkmath.ZeroInt(),
		shares:      make(map[common.Address]sdkmath.Int),
		now:         time.Now,
	}, nil
}

func (p *Pool) lock() error {
	if p.locked {
		return ErrReentrantCall
	}
	p.locked = true
	return nil
}

func (p *Pool) unlock() { p.locked = false }

// Initialize seeds the pool with its first constituents, pulling the
// stated balances from the provider and minting the initial share supply
// to them. It can run exactly once.
func (p *Pool) Initialize(provider common.Address, tokens []InitialToken) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if p.initialized {
		return ErrDuplicateInitialization
	}
	if len(tokens) < MinBoundTokens {
		return fmt.Errorf("pool: need at least %d tokens", MinBoundTokens)
	}
	if len(tokens) > MaxBoundTokens {
		return ErrMaxBoundTokens
	}

	seen := make(map[common.Address]bool, len(tokens))
	total := sdkmath.LegacyZeroDec()
	for _, t := range tokens {
		if seen[t.Token] {
			return ErrAlreadyBound
		}
		seen[t.Token] = true
		if t.Balance.IsNil() || !t.Balance.IsPositive() {
			return ErrInvalidAmount
		}
		if t.Weight.LT(MinWeight) {
			return ErrBelowMinWeight
		}
		if t.Weight.GT(MaxWeight) {
			return ErrAboveMaxWeight
		}
		total = total.Add(t.Weight)
	}
	if total.GT(MaxTotalWeight) {
		return ErrAboveMaxTotalWeight
	}

	xfers := make([]xfer, 0, len(tokens))
	for _, t := range tokens {
		xfers = append(xfers, xfer{token: t.Token, from: provider, to: p.addr, amount: t.Balance})
	}
	if err := p.execute(xfers); err != nil {
		return err
	}

	for _, t := range tokens {
		p.records[t.Token] = &Record{
			Bound:            true,
			Ready:            true,
			Balance:          t.Balance,
			Weight:           t.Weight,
			DesiredWeight:    t.Weight,
			MinimumBalance:   sdkmath.ZeroInt(),
			LastWeightUpdate: p.now(),
		}
		p.tokens = append(p.tokens, t.Token)
	}

	p.totalWeight = total
	p.shareSupply = InitialShares
	p.shares[provider] = InitialShares
	p.initialized = true

	p.log.Info().
		Int("tokens", len(tokens)).
		Str("total_weight", total.String()).
		Msg("Pool initialized")
	return nil
}

// Bind registers a new not-ready token. It carries no live weight until
// swaps seed it up to minimumBalance.
func (p *Pool) Bind(token common.Address, desiredWeight sdkmath.LegacyDec, minimumBalance sdkmath.Int) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if rec, ok := p.records[token]; ok && rec.Bound {
		return ErrAlreadyBound
	}
	if len(p.tokens) >= MaxBoundTokens {
		return ErrMaxBoundTokens
	}
	if desiredWeight.LT(MinWeight) {
		return ErrBelowMinWeight
	}
	if desiredWeight.GT(MaxWeight) {
		return ErrAboveMaxWeight
	}
	// Binding makes the token priceable at the weight floor; the floor
	// must fit under the cap once the token flips ready.
	if p.totalWeight.Add(MinWeight).GT(MaxTotalWeight) {
		return ErrAboveMaxTotalWeight
	}
	if minimumBalance.IsNil() || !minimumBalance.IsPositive() {
		return ErrInvalidAmount
	}

	p.records[token] = &Record{
		Bound:            true,
		Ready:            false,
		Balance:          sdkmath.ZeroInt(),
		Weight:           sdkmath.LegacyZeroDec(),
		DesiredWeight:    desiredWeight,
		MinimumBalance:   minimumBalance,
		LastWeightUpdate: p.now(),
	}
	p.tokens = append(p.tokens, token)

	p.log.Info().
		Str("token", token.Hex()).
		Str("desired_weight", desiredWeight.String()).
		Str("minimum_balance", minimumBalance.String()).
		Msg("Token bound")
	return nil
}

// SetDesiredWeight retargets a bound token. A zero target marks the token
// for gradual removal.
func (p *Pool) SetDesiredWeight(token common.Address, desired sdkmath.LegacyDec) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	rec, ok := p.records[token]
	if !ok || !rec.Bound {
		return ErrNotBound
	}
	if !desired.IsZero() {
		if desired.LT(MinWeight) {
			return ErrBelowMinWeight
		}
		if desired.GT(MaxWeight) {
			return ErrAboveMaxWeight
		}
	}
	rec.DesiredWeight = desired
	return nil
}

// SetMinimumBalance revises the seeding target of a not-ready token, used
// when the pool's value has moved since the token was bound.
func (p *Pool) SetMinimumBalance(token common.Address, minimum sdkmath.Int) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	rec, ok := p.records[token]
	if !ok || !rec.Bound {
		return ErrNotBound
	}
	if rec.Ready {
		return fmt.Errorf("pool: token %s is already seeded", token.Hex())
	}
	if minimum.IsNil() || !minimum.IsPositive() {
		return ErrInvalidAmount
	}
	rec.MinimumBalance = minimum
	return nil
}

// SetSwapFee adjusts the fee within the allowed band.
func (p *Pool) SetSwapFee(fee sdkmath.LegacyDec) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if fee.IsNil() || fee.LT(MinFee) || fee.GT(MaxFee) {
		return ErrInvalidFee
	}
	p.swapFee = fee
	return nil
}

// effective returns the balance and weight used for pricing. Not-ready
// tokens are priced as if they held exactly their minimum balance at the
// weight floor.
func (p *Pool) effective(rec *Record) (sdkmath.Int, sdkmath.LegacyDec) {
	if rec.Ready {
		return rec.Balance, rec.Weight
	}
	return rec.MinimumBalance, MinWeight
}

// SpotPrice quotes tokenOut in units of tokenIn, fee included.
func (p *Pool) SpotPrice(tokenIn, tokenOut common.Address) (sdkmath.LegacyDec, error) {
	inRec, ok := p.records[tokenIn]
	if !ok || !inRec.Bound {
		return sdkmath.LegacyDec{}, ErrNotBound
	}
	outRec, ok := p.records[tokenOut]
	if !ok || !outRec.Bound {
		return sdkmath.LegacyDec{}, ErrNotBound
	}
	balIn, wIn := p.effective(inRec)
	balOut, wOut := p.effective(outRec)
	return calcSpotPrice(balIn, wIn, balOut, wOut, p.swapFee), nil
}

// SwapExactAmountIn trades a fixed input for at least minAmountOut of the
// output token.
func (p *Pool) SwapExactAmountIn(
	trader common.Address,
	tokenIn common.Address, amountIn sdkmath.Int,
	tokenOut common.Address, minAmountOut sdkmath.Int,
) (sdkmath.Int, error) {
	if err := p.lock(); err != nil {
		return sdkmath.Int{}, err
	}
	defer p.unlock()

	inRec, outRec, err := p.swapPair(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.Int{}, ErrInvalidAmount
	}

	balIn, wIn := p.effective(inRec)
	balOut, wOut := p.effective(outRec)

	if sdkmath.LegacyNewDecFromInt(amountIn).GT(sdkmath.LegacyNewDecFromInt(balIn).Mul(MaxInRatio)) {
		return sdkmath.Int{}, ErrMaxInRatio
	}

	amountOut, err := calcOutGivenIn(balIn, wIn, balOut, wOut, amountIn, p.swapFee)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !amountOut.IsPositive() {
		return sdkmath.Int{}, ErrMathApprox
	}
	if sdkmath.LegacyNewDecFromInt(amountOut).GT(sdkmath.LegacyNewDecFromInt(outRec.Balance).Mul(MaxOutRatio)) {
		return sdkmath.Int{}, ErrMinOutRatio
	}
	if !minAmountOut.IsNil() && amountOut.LT(minAmountOut) {
		return sdkmath.Int{}, ErrLimitOut
	}

	if err := p.settleSwap(trader, tokenIn, amountIn, tokenOut, amountOut, inRec, outRec); err != nil {
		return sdkmath.Int{}, err
	}
	return amountOut, nil
}

// SwapExactAmountOut trades at most maxAmountIn of the input token for a
// fixed output.
func (p *Pool) SwapExactAmountOut(
	trader common.Address,
	tokenIn common.Address, maxAmountIn sdkmath.Int,
	tokenOut common.Address, amountOut sdkmath.Int,
) (sdkmath.Int, error) {
	if err := p.lock(); err != nil {
		return sdkmath.Int{}, err
	}
	defer p.unlock()

	inRec, outRec, err := p.swapPair(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amountOut.IsNil() || !amountOut.IsPositive() {
		return sdkmath.Int{}, ErrInvalidAmount
	}
	if sdkmath.LegacyNewDecFromInt(amountOut).GT(sdkmath.LegacyNewDecFromInt(outRec.Balance).Mul(MaxOutRatio)) {
		return sdkmath.Int{}, ErrMinOutRatio
	}

	balIn, wIn := p.effective(inRec)
	balOut, wOut := p.effective(outRec)

	amountIn, err := calcInGivenOut(balIn, wIn, balOut, wOut, amountOut, p.swapFee)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !amountIn.IsPositive() {
		return sdkmath.Int{}, ErrMathApprox
	}
	if sdkmath.LegacyNewDecFromInt(amountIn).GT(sdkmath.LegacyNewDecFromInt(balIn).Mul(MaxInRatio)) {
		return sdkmath.Int{}, ErrMaxInRatio
	}
	if !maxAmountIn.IsNil() && amountIn.GT(maxAmountIn) {
		return sdkmath.Int{}, ErrLimitIn
	}

	if err := p.settleSwap(trader, tokenIn, amountIn, tokenOut, amountOut, inRec, outRec); err != nil {
		return sdkmath.Int{}, err
	}
	return amountIn, nil
}

// swapPair runs the shared swap preconditions. Outbound transfers of a
// not-ready token are forbidden; inbound top-ups are what seed it.
func (p *Pool) swapPair(tokenIn, tokenOut common.Address) (*Record, *Record, error) {
	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if tokenIn == tokenOut {
		return nil, nil, ErrSameToken
	}
	inRec, ok := p.records[tokenIn]
	if !ok || !inRec.Bound {
		return nil, nil, ErrNotBound
	}
	outRec, ok := p.records[tokenOut]
	if !ok || !outRec.Bound {
		return nil, nil, ErrNotBound
	}
	if !outRec.Ready {
		return nil, nil, ErrTokenNotReady
	}
	return inRec, outRec, nil
}

// settleSwap commits a validated swap: balances, readiness, lazy weight
// migration, then the external transfers. On transfer or handler failure
// the checkpoint is restored and completed transfers are reversed.
func (p *Pool) settleSwap(
	trader common.Address,
	tokenIn common.Address, amountIn sdkmath.Int,
	tokenOut common.Address, amountOut sdkmath.Int,
	inRec, outRec *Record,
) error {
	cp := p.checkpoint()

	inRec.Balance = inRec.Balance.Add(amountIn)
	p.updateReadiness(tokenIn, inRec)
	outRec.Balance = outRec.Balance.Sub(amountOut)

	p.increaseWeight(tokenIn, inRec)
	removed := p.decreaseWeight(tokenOut, outRec)

	xfers := []xfer{
		{token: tokenIn, from: trader, to: p.addr, amount: amountIn},
		{token: tokenOut, from: p.addr, to: trader, amount: amountOut},
	}
	var hook func() error
	if removed != nil {
		xfers = append(xfers, xfer{token: tokenOut, from: p.addr, to: p.unbind.Address(), amount: *removed})
		residual := *removed
		hook = func() error { return p.unbind.HandleUnbindToken(tokenOut, residual) }
	}
	if err := p.commit(cp, xfers, hook); err != nil {
		return err
	}

	p.log.Debug().
		Str("token_in", tokenIn.Hex()).
		Str("amount_in", amountIn.String()).
		Str("token_out", tokenOut.Hex()).
		Str("amount_out", amountOut.String()).
		Msg("Swap settled")
	return nil
}

// updateReadiness flips a seeded token to ready. The live weight starts at
// the floor so the effective (minimumBalance, MinWeight) pricing carries
// over without a price discontinuity.
func (p *Pool) updateReadiness(token common.Address, rec *Record) {
	if rec.Ready || rec.Balance.LT(rec.MinimumBalance) {
		return
	}
	rec.Ready = true
	rec.Weight = MinWeight
	rec.LastWeightUpdate = p.now()
	p.totalWeight = p.totalWeight.Add(MinWeight)
	p.log.Info().
		Str("token", token.Hex()).
		Str("balance", rec.Balance.String()).
		Msg("Token reached minimum balance, now ready")
}

// increaseWeight migrates a ready token one step toward a higher desired
// weight, at most once per WeightUpdatePeriod. A step that would push the
// pool over the total-weight cap is skipped.
func (p *Pool) increaseWeight(token common.Address, rec *Record) {
	if !rec.Ready || rec.DesiredWeight.LTE(rec.Weight) {
		return
	}
	if p.now().Sub(rec.LastWeightUpdate) < WeightUpdatePeriod {
		return
	}
	step := rec.Weight.Mul(decOne.Add(p.swapFee.Quo(decTwo)))
	next := sdkmath.LegacyMinDec(step, rec.DesiredWeight)
	if p.totalWeight.Add(next.Sub(rec.Weight)).GT(MaxTotalWeight) {
		return
	}
	p.totalWeight = p.totalWeight.Add(next.Sub(rec.Weight))
	rec.Weight = next
	rec.LastWeightUpdate = p.now()
}

// decreaseWeight migrates a ready token one step toward a lower desired
// weight. When the target is zero and the weight has decayed to the
// floor, the token is unbound and its residual balance returned for the
// caller to hand off; nil means no removal happened.
func (p *Pool) decreaseWeight(token common.Address, rec *Record) *sdkmath.Int {
	if !rec.Ready || rec.DesiredWeight.GTE(rec.Weight) {
		return nil
	}
	if p.now().Sub(rec.LastWeightUpdate) < WeightUpdatePeriod {
		return nil
	}
	step := rec.Weight.Mul(decOne.Sub(p.swapFee.Quo(decTwo)))
	next := sdkmath.LegacyMaxDec(step, rec.DesiredWeight)

	if rec.DesiredWeight.IsZero() && next.LTE(MinWeight) {
		residual := rec.Balance
		p.totalWeight = p.totalWeight.Sub(rec.Weight)
		p.removeToken(token)
		p.log.Info().
			Str("token", token.Hex()).
			Str("residual", residual.String()).
			Msg("Token weight reached floor, unbinding")
		return &residual
	}

	next = sdkmath.LegacyMaxDec(next, MinWeight)
	p.totalWeight = p.totalWeight.Sub(rec.Weight.Sub(next))
	rec.Weight = next
	rec.LastWeightUpdate = p.now()
	return nil
}

func (p *Pool) removeToken(token common.Address) {
	delete(p.records, token)
	for i, t := range p.tokens {
		if t == token {
			p.tokens = append(p.tokens[:i], p.tokens[i+1:]...)
			break
		}
	}
}

// JoinPool mints poolAmountOut shares against a proportional deposit of
// every bound token, each capped by the corresponding maxAmountsIn entry.
// Deposits are subject to the same per-transaction ratio bound as swaps.
func (p *Pool) JoinPool(provider common.Address, poolAmountOut sdkmath.Int, maxAmountsIn []sdkmath.Int) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if poolAmountOut.IsNil() || !poolAmountOut.IsPositive() {
		return ErrInvalidAmount
	}
	if len(maxAmountsIn) != len(p.tokens) {
		return fmt.Errorf("pool: expected %d amount limits, got %d", len(p.tokens), len(maxAmountsIn))
	}

	ratio := sdkmath.LegacyNewDecFromInt(poolAmountOut).Quo(sdkmath.LegacyNewDecFromInt(p.shareSupply))

	cp := p.checkpoint()
	xfers := make([]xfer, 0, len(p.tokens))
	for i, token := range p.tokens {
		rec := p.records[token]
		amountIn := ratio.MulInt(rec.Balance).Ceil().TruncateInt()
		if amountIn.IsZero() {
			continue
		}
		if sdkmath.LegacyNewDecFromInt(amountIn).GT(sdkmath.LegacyNewDecFromInt(rec.Balance).Mul(MaxInRatio)) {
			p.restore(cp)
			return ErrMaxInRatio
		}
		if !maxAmountsIn[i].IsNil() && amountIn.GT(maxAmountsIn[i]) {
			p.restore(cp)
			return ErrLimitIn
		}
		rec.Balance = rec.Balance.Add(amountIn)
		p.updateReadiness(token, rec)
		xfers = append(xfers, xfer{token: token, from: provider, to: p.addr, amount: amountIn})
	}

	p.shareSupply = p.shareSupply.Add(poolAmountOut)
	p.creditShares(provider, poolAmountOut)

	if err := p.commit(cp, xfers, nil); err != nil {
		return err
	}

	p.log.Debug().
		Str("provider", provider.Hex()).
		Str("shares", poolAmountOut.String()).
		Msg("Join settled")
	return nil
}

// ExitPool burns poolAmountIn shares for a proportional withdrawal. Tokens
// that have not reached their minimum balance are skipped: their share of
// the exit stays in the pool rather than draining an unseeded position.
func (p *Pool) ExitPool(provider common.Address, poolAmountIn sdkmath.Int, minAmountsOut []sdkmath.Int) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if poolAmountIn.IsNil() || !poolAmountIn.IsPositive() {
		return ErrInvalidAmount
	}
	if len(minAmountsOut) != len(p.tokens) {
		return fmt.Errorf("pool: expected %d amount limits, got %d", len(p.tokens), len(minAmountsOut))
	}
	held := p.shares[provider]
	if held.IsNil() || held.LT(poolAmountIn) {
		return ErrInsufficientShares
	}

	ratio := sdkmath.LegacyNewDecFromInt(poolAmountIn).Quo(sdkmath.LegacyNewDecFromInt(p.shareSupply))

	cp := p.checkpoint()
	xfers := make([]xfer, 0, len(p.tokens))
	for i, token := range p.tokens {
		rec := p.records[token]
		if !rec.Ready {
			continue
		}
		amountOut := ratio.MulInt(rec.Balance).TruncateInt()
		if sdkmath.LegacyNewDecFromInt(amountOut).GT(sdkmath.LegacyNewDecFromInt(rec.Balance).Mul(MaxOutRatio)) {
			p.restore(cp)
			return ErrMinOutRatio
		}
		if !minAmountsOut[i].IsNil() && amountOut.LT(minAmountsOut[i]) {
			p.restore(cp)
			return ErrLimitOut
		}
		if amountOut.IsZero() {
			continue
		}
		rec.Balance = rec.Balance.Sub(amountOut)
		xfers = append(xfers, xfer{token: token, from: p.addr, to: provider, amount: amountOut})
	}

	p.shareSupply = p.shareSupply.Sub(poolAmountIn)
	p.shares[provider] = held.Sub(poolAmountIn)

	if err := p.commit(cp, xfers, nil); err != nil {
		return err
	}

	p.log.Debug().
		Str("provider", provider.Hex()).
		Str("shares", poolAmountIn.String()).
		Msg("Exit settled")
	return nil
}

// Gulp reconciles a token's recorded balance with the ledger's truth.
// For a bound token any surplus is absorbed into the pool and may flip it
// ready; for an unbound token the full holding is routed to the unbind
// handler. Gulping twice in a row is a no-op.
func (p *Pool) Gulp(token common.Address) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}

	actual := p.ledger.BalanceOf(token, p.addr)

	rec, ok := p.records[token]
	if ok && rec.Bound {
		rec.Balance = actual
		p.updateReadiness(token, rec)
		return nil
	}

	if actual.IsZero() {
		return nil
	}
	cp := p.checkpoint()
	xfers := []xfer{{token: token, from: p.addr, to: p.unbind.Address(), amount: actual}}
	hook := func() error { return p.unbind.HandleUnbindToken(token, actual) }
	return p.commit(cp, xfers, hook)
}

func (p *Pool) creditShares(holder common.Address, amount sdkmath.Int) {
	cur, ok := p.shares[holder]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	p.shares[holder] = cur.Add(amount)
}

// Accessors. RecordOf returns a copy so callers cannot mutate pool state.

func (p *Pool) IsBound(token common.Address) bool {
	rec, ok := p.records[token]
	return ok && rec.Bound
}

func (p *Pool) RecordOf(token common.Address) (Record, error) {
	rec, ok := p.records[token]
	if !ok || !rec.Bound {
		return Record{}, ErrNotBound
	}
	return *rec, nil
}

// CurrentTokens returns the bound tokens in bind order.
func (p *Pool) CurrentTokens() []common.Address {
	out := make([]common.Address, len(p.tokens))
	copy(out, p.tokens)
	return out
}

func (p *Pool) TotalDenormalizedWeight() sdkmath.LegacyDec { return p.totalWeight }
func (p *Pool) SwapFee() sdkmath.LegacyDec                 { return p.swapFee }
func (p *Pool) Address() common.Address                    { return p.addr }
func (p *Pool) TotalShares() sdkmath.Int                   { return p.shareSupply }

func (p *Pool) ShareBalance(holder common.Address) sdkmath.Int {
	bal, ok := p.shares[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}
