package pool

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// FlashBorrower receives a flash loan and must return amount plus fee to
// the pool before its callback returns.
type FlashBorrower interface {
	Address() common.Address
	ReceiveFlashLoan(token common.Address, amount, fee sdkmath.Int, data []byte) error
}

// FlashBorrow lends amount of a bound token for the duration of the
// borrower's callback. The loan carries a fee at the swap-fee rate,
// rounded up. If the pool's ledger balance after the callback is below
// principal plus fee the loan is clawed back and the operation fails with
// no lasting state change. On success the fee is absorbed into the
// token's recorded balance.
func (p *Pool) FlashBorrow(borrower FlashBorrower, token common.Address, amount sdkmath.Int, data []byte) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	rec, ok := p.records[token]
	if !ok || !rec.Bound {
		return ErrNotBound
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GT(rec.Balance) {
		return ErrMaxInRatio
	}

	fee := p.swapFee.MulInt(amount).Ceil().TruncateInt()
	balanceBefore := p.ledger.BalanceOf(token, p.addr)

	if err := p.ledger.Transfer(token, p.addr, borrower.Address(), amount); err != nil {
		return err
	}

	required := balanceBefore.Add(fee)
	callbackErr := borrower.ReceiveFlashLoan(token, amount, fee, data)
	balanceAfter := p.ledger.BalanceOf(token, p.addr)

	if callbackErr != nil || balanceAfter.LT(required) {
		// Unwind to the pre-loan balance: claw back what the borrower
		// kept, or hand back any partial repayment.
		diff := balanceBefore.Sub(balanceAfter)
		var rerr error
		if diff.IsPositive() {
			rerr = p.ledger.Transfer(token, borrower.Address(), p.addr, diff)
		} else if diff.IsNegative() {
			rerr = p.ledger.Transfer(token, p.addr, borrower.Address(), diff.Neg())
		}
		if rerr != nil {
			return ErrFlashLoanNotRepaid
		}
		if callbackErr != nil {
			return callbackErr
		}
		return ErrFlashLoanNotRepaid
	}

	rec.Balance = balanceAfter
	p.updateReadiness(token, rec)

	p.log.Debug().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("Flash loan repaid")
	return nil
}
