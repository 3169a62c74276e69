package datafetcher

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openweight/simm/internal/config"
)

var (
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testRef   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testPair  = common.HexToAddress("0x0000000000000000000000000000000000000f0f")
)

// mockChain answers eth_call by contract address and method selector.
type mockChain struct {
	t        *testing.T
	returns  map[string][]byte
	headTime uint64
}

func (m *mockChain) key(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data[:4])
}

func (m *mockChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	resp, ok := m.returns[m.key(*msg.To, msg.Data)]
	require.True(m.t, ok, "unexpected call to %s with %x", msg.To.Hex(), msg.Data[:4])
	return resp, nil
}

func (m *mockChain) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Time: m.headTime}, nil
}

func (m *mockChain) stub(contract common.Address, method string, values ...interface{}) {
	parsed, err := pairABI()
	require.NoError(m.t, err)
	if _, ok := parsed.Methods[method]; !ok {
		parsed, err = erc20ABI()
		require.NoError(m.t, err)
	}
	meth, ok := parsed.Methods[method]
	require.True(m.t, ok, "unknown method %s", method)

	packed, err := meth.Outputs.Pack(values...)
	require.NoError(m.t, err)
	m.returns[m.key(contract, meth.ID)] = packed
}

func newMockChain(t *testing.T) *mockChain {
	return &mockChain{t: t, returns: make(map[string][]byte), headTime: 1_700_000_100}
}

func newTestSource(t *testing.T, chain *mockChain) *PairSource {
	t.Helper()
	chain.stub(testPair, "token0", testToken)
	chain.stub(testPair, "token1", testRef)

	src, err := NewPairSource(chain, testRef, []config.TrackedToken{
		{Symbol: "TKN", Token: testToken, Pair: testPair},
	})
	require.NoError(t, err)
	return src
}

func TestNewPairSourceRejectsForeignPair(t *testing.T) {
	chain := newMockChain(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000000123")
	chain.stub(testPair, "token0", testToken)
	chain.stub(testPair, "token1", other)

	_, err := NewPairSource(chain, testRef, []config.TrackedToken{
		{Symbol: "TKN", Token: testToken, Pair: testPair},
	})
	assert.Error(t, err)
}

func TestCurrentCumulativePricesAdvancesAccumulators(t *testing.T) {
	chain := newMockChain(t)
	src := newTestSource(t, chain)

	// Reserves 100 token / 200 ref, accumulators still zero, last pair
	// update 10 seconds before the chain head.
	chain.stub(testPair, "price0CumulativeLast", big.NewInt(0))
	chain.stub(testPair, "price1CumulativeLast", big.NewInt(0))
	chain.stub(testPair, "getReserves",
		big.NewInt(100), big.NewInt(200), uint32(chain.headTime-10))

	price, refPrice, ts, err := src.CurrentCumulativePrices(testToken)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(int64(chain.headTime), 0).UTC(), ts)

	// price of token in ref = 200/100 = 2 per second over 10 seconds.
	wantPrice := new(uint256.Int).Lsh(uint256.NewInt(2), 112)
	wantPrice.Mul(wantPrice, uint256.NewInt(10))
	assert.Equal(t, wantPrice, price)

	// reverse direction: 100/200 = 0.5 per second over 10 seconds.
	wantRef := new(uint256.Int).Lsh(uint256.NewInt(100), 112)
	wantRef.Div(wantRef, uint256.NewInt(200))
	wantRef.Mul(wantRef, uint256.NewInt(10))
	assert.Equal(t, wantRef, refPrice)
}

func TestCurrentCumulativePricesFreshPair(t *testing.T) {
	chain := newMockChain(t)
	src := newTestSource(t, chain)

	// Pair updated at the head timestamp: accumulators pass through.
	base := new(uint256.Int).Lsh(uint256.NewInt(7), 112)
	chain.stub(testPair, "price0CumulativeLast", base.ToBig())
	chain.stub(testPair, "price1CumulativeLast", big.NewInt(42))
	chain.stub(testPair, "getReserves",
		big.NewInt(100), big.NewInt(200), uint32(chain.headTime))

	price, refPrice, _, err := src.CurrentCumulativePrices(testToken)
	require.NoError(t, err)
	assert.Equal(t, base, price)
	assert.Equal(t, uint256.NewInt(42), refPrice)
}

func TestCurrentCumulativePricesUnknownToken(t *testing.T) {
	chain := newMockChain(t)
	src := newTestSource(t, chain)

	_, _, _, err := src.CurrentCumulativePrices(testRef)
	assert.Error(t, err)
}

func TestTotalSupply(t *testing.T) {
	chain := newMockChain(t)
	src := newTestSource(t, chain)

	chain.stub(testToken, "totalSupply", big.NewInt(1_000_000))
	supply, err := src.TotalSupply(testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), supply.Int64())
}
