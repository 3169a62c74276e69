package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// xfer is one planned ledger movement. Plans run after local state is
// mutated; a failed step reverses the completed ones so the pool and the
// ledger never disagree.
type xfer struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount sdkmath.Int
}

// checkpoint is a full copy of the pool's mutable state. Records hold
// value types with copy-on-write arithmetic, so struct copies are safe.
type checkpoint struct {
	records     map[common.Address]Record
	tokens      []common.Address
	totalWeight sdkmath.LegacyDec
	shareSupply sdkmath.Int
	shares      map[common.Address]sdkmath.Int
}

func (p *Pool) checkpoint() checkpoint {
	cp := checkpoint{
		records:     make(map[common.Address]Record, len(p.records)),
		tokens:      make([]common.Address, len(p.tokens)),
		totalWeight: p.totalWeight,
		shareSupply: p.shareSupply,
		shares:      make(map[common.Address]sdkmath.Int, len(p.shares)),
	}
	for addr, rec := range p.records {
		cp.records[addr] = *rec
	}
	copy(cp.tokens, p.tokens)
	for holder, bal := range p.shares {
		cp.shares[holder] = bal
	}
	return cp
}

func (p *Pool) restore(cp checkpoint) {
	p.records = make(map[common.Address]*Record, len(cp.records))
	for addr, rec := range cp.records {
		r := rec
		p.records[addr] = &r
	}
	p.tokens = cp.tokens
	p.totalWeight = cp.totalWeight
	p.shareSupply = cp.shareSupply
	p.shares = cp.shares
}

// execute runs a transfer plan, unwinding completed steps on failure.
func (p *Pool) execute(xfers []xfer) error {
	for i, x := range xfers {
		if err := p.ledger.Transfer(x.token, x.from, x.to, x.amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				u := xfers[j]
				if rerr := p.ledger.Transfer(u.token, u.to, u.from, u.amount); rerr != nil {
					return fmt.Errorf("pool: transfer failed and unwind failed: %w (unwind: %v)", err, rerr)
				}
			}
			return err
		}
	}
	return nil
}

// commit finalizes an operation whose local mutations are already in
// place: it runs the transfer plan and an optional post-transfer hook,
// restoring the checkpoint if either fails.
func (p *Pool) commit(cp checkpoint, xfers []xfer, hook func() error) error {
	if err := p.execute(xfers); err != nil {
		p.restore(cp)
		return err
	}
	if hook != nil {
		if err := hook(); err != nil {
			// Records go back to the checkpoint even when an unwind
			// transfer fails; the remaining ledger discrepancy then
			// surfaces through Gulp instead of a forged record.
			for j := len(xfers) - 1; j >= 0; j-- {
				u := xfers[j]
				if rerr := p.ledger.Transfer(u.token, u.to, u.from, u.amount); rerr != nil {
					p.restore(cp)
					return fmt.Errorf("pool: handler failed and unwind failed: %w (unwind: %v)", err, rerr)
				}
			}
			p.restore(cp)
			return err
		}
	}
	return nil
}
