// Package ledger provides an in-memory ERC-20-style balance book. The pool
// engine talks to token balances only through the pool.Ledger interface; this
// implementation backs simulation runs and the test suite.
package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: amount must be non-negative")
)

// InMemory keeps balances keyed by token then holder.
type InMemory struct {
	balances map[common.Address]map[common.Address]sdkmath.Int
}

// NewInMemory returns an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[common.Address]map[common.Address]sdkmath.Int)}
}

// Mint credits freshly created units to a holder.
func (l *InMemory) Mint(token, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.credit(token, to, amount)
	return nil
}

// Transfer moves amount between holders of the same token.
func (l *InMemory) Transfer(token, from, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	have := l.BalanceOf(token, from)
	if have.LT(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), have, amount)
	}
	l.balances[token][from] = have.Sub(amount)
	l.credit(token, to, amount)
	return nil
}

// BalanceOf reports a holder's balance, zero for unknown pairs.
func (l *InMemory) BalanceOf(token, holder common.Address) sdkmath.Int {
	if holders, ok := l.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return bal
		}
	}
	return sdkmath.ZeroInt()
}

func (l *InMemory) credit(token, to common.Address, amount sdkmath.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]sdkmath.Int)
		l.balances[token] = holders
	}
	current, ok := holders[to]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	holders[to] = current.Add(amount)
}
