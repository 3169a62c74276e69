/*

PairSource reads the index's market data from constant-product pair
contracts over JSON-RPC. Each tracked token is paired against the
reference asset; the pair's cumulative price accumulators feed the
oracle and the token contract's totalSupply feeds market-cap ranking.

Pairs only write their accumulators on trades. To return a value
consistent with "now", the accumulators are advanced counterfactually
from the last stored reserves over the seconds since the pair's last
update, exactly as the pair itself would on its next trade. All
accumulator arithmetic wraps modulo 2^256; the oracle reduces further to
the 224-bit domain it averages in.

*/

package datafetcher

import (
	"context"
	"fmt"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/openweight/simm/internal/config"
	"github.com/openweight/simm/internal/logger"
)

const callTimeout = 10 * time.Second

// ChainReader is the slice of the RPC client the source needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

type pairBinding struct {
	pair     common.Address
	tokenIs0 bool
}

// PairSource serves cumulative prices and total supplies for a fixed
// token universe.
type PairSource struct {
	log    zerolog.Logger
	client ChainReader
	ref    common.Address
	pairs  map[common.Address]pairBinding
}

// NewPairSource resolves each pair's token orientation up front so reads
// never guess which side the tracked token sits on.
func NewPairSource(client ChainReader, refToken common.Address, tracked []config.TrackedToken) (*PairSource, error) {
	if client == nil {
		return nil, fmt.Errorf("datafetcher: chain reader is required")
	}
	s := &PairSource{
		log:    logger.GetForComponent("datafetcher"),
		client: client,
		ref:    refToken,
		pairs:  make(map[common.Address]pairBinding, len(tracked)),
	}

	parsed, err := pairABI()
	if err != nil {
		return nil, fmt.Errorf("datafetcher: parse pair abi: %w", err)
	}
	for _, t := range tracked {
		token0, err := s.callAddress(parsed, t.Pair, "token0")
		if err != nil {
			return nil, fmt.Errorf("datafetcher: token0 of pair %s: %w", t.Pair.Hex(), err)
		}
		token1, err := s.callAddress(parsed, t.Pair, "token1")
		if err != nil {
			return nil, fmt.Errorf("datafetcher: token1 of pair %s: %w", t.Pair.Hex(), err)
		}
		switch {
		case token0 == t.Token && token1 == refToken:
			s.pairs[t.Token] = pairBinding{pair: t.Pair, tokenIs0: true}
		case token1 == t.Token && token0 == refToken:
			s.pairs[t.Token] = pairBinding{pair: t.Pair, tokenIs0: false}
		default:
			return nil, fmt.Errorf("datafetcher: pair %s does not trade %s against the reference asset",
				t.Pair.Hex(), t.Symbol)
		}
		s.log.Debug().
			Str("symbol", t.Symbol).
			Str("pair", t.Pair.Hex()).
			Bool("token_is_0", s.pairs[t.Token].tokenIs0).
			Msg("Pair binding resolved")
	}
	return s, nil
}

// CurrentCumulativePrices returns both direction accumulators for the
// token's pair, advanced to the chain head's timestamp.
func (s *PairSource) CurrentCumulativePrices(token common.Address) (*uint256.Int, *uint256.Int, time.Time, error) {
	binding, ok := s.pairs[token]
	if !ok {
		return nil, nil, time.Time{}, fmt.Errorf("datafetcher: no pair bound for token %s", token.Hex())
	}
	parsed, err := pairABI()
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	price0, err := s.callUint256(parsed, binding.pair, "price0CumulativeLast")
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	price1, err := s.callUint256(parsed, binding.pair, "price1CumulativeLast")
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	reserve0, reserve1, updatedAt, err := s.reserves(parsed, binding.pair)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("datafetcher: chain head: %w", err)
	}
	headTime := head.Time

	// The pair stores its timestamp mod 2^32; elapsed must use the same
	// truncated arithmetic to survive the wrap.
	elapsed := uint32(headTime) - updatedAt
	if elapsed > 0 && !reserve0.IsZero() && !reserve1.IsZero() {
		price0.Add(price0, accumulatorTerm(reserve1, reserve0, elapsed))
		price1.Add(price1, accumulatorTerm(reserve0, reserve1, elapsed))
	}

	ts := time.Unix(int64(headTime), 0).UTC()
	if binding.tokenIs0 {
		return price0, price1, ts, nil
	}
	return price1, price0, ts, nil
}

// TotalSupply reads the token's ERC-20 supply.
func (s *PairSource) TotalSupply(token common.Address) (sdkmath.Int, error) {
	parsed, err := erc20ABI()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("datafetcher: parse erc20 abi: %w", err)
	}
	supply, err := s.callUint256(parsed, token, "totalSupply")
	if err != nil {
		return sdkmath.Int{}, err
	}
	return sdkmath.NewIntFromBigInt(supply.ToBig()), nil
}

// Tokens lists the bound universe.
func (s *PairSource) Tokens() []common.Address {
	out := make([]common.Address, 0, len(s.pairs))
	for token := range s.pairs {
		out = append(out, token)
	}
	return out
}

// accumulatorTerm is UQ112x112(numer/denom) * elapsed with wrapping
// uint256 arithmetic, matching how the pair itself advances.
func accumulatorTerm(numer, denom *uint256.Int, elapsed uint32) *uint256.Int {
	term := new(uint256.Int).Lsh(numer, 112)
	term.Div(term, denom)
	return term.Mul(term, uint256.NewInt(uint64(elapsed)))
}

func (s *PairSource) call(parsed abi.ABI, contract common.Address, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("datafetcher: pack %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	msg := ethereum.CallMsg{To: &contract, Data: data}
	resp, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("datafetcher: call %s on %s: %w", method, contract.Hex(), err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("datafetcher: unpack %s: %w", method, err)
	}
	return values, nil
}

func (s *PairSource) callAddress(parsed abi.ABI, contract common.Address, method string) (common.Address, error) {
	values, err := s.call(parsed, contract, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("datafetcher: %s returned %T, want address", method, values[0])
	}
	return addr, nil
}

func (s *PairSource) callUint256(parsed abi.ABI, contract common.Address, method string) (*uint256.Int, error) {
	values, err := s.call(parsed, contract, method)
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("datafetcher: %s returned %T, want *big.Int", method, values[0])
	}
	out, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("datafetcher: %s on %s overflows uint256", method, contract.Hex())
	}
	return out, nil
}

func (s *PairSource) reserves(parsed abi.ABI, pair common.Address) (*uint256.Int, *uint256.Int, uint32, error) {
	values, err := s.call(parsed, pair, "getReserves")
	if err != nil {
		return nil, nil, 0, err
	}
	if len(values) != 3 {
		return nil, nil, 0, fmt.Errorf("datafetcher: getReserves returned %d values", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	ts, ok2 := values[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return nil, nil, 0, fmt.Errorf("datafetcher: getReserves returned unexpected types")
	}
	reserve0, _ := uint256.FromBig(r0)
	reserve1, _ := uint256.FromBig(r1)
	return reserve0, reserve1, ts, nil
}
