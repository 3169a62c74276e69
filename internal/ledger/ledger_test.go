package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	token = common.HexToAddress("0x0000000000000000000000000000000000000010")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestMintAndTransfer(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, l.Mint(token, alice, sdkmath.NewInt(100)))
	require.NoError(t, l.Transfer(token, alice, bob, sdkmath.NewInt(40)))

	require.Equal(t, "60", l.BalanceOf(token, alice).String())
	require.Equal(t, "40", l.BalanceOf(token, bob).String())
}

func TestTransferInsufficient(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, l.Mint(token, alice, sdkmath.NewInt(10)))

	err := l.Transfer(token, alice, bob, sdkmath.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, "10", l.BalanceOf(token, alice).String())
}

func TestNegativeAmountsRejected(t *testing.T) {
	l := NewInMemory()
	require.ErrorIs(t, l.Mint(token, alice, sdkmath.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(t, l.Transfer(token, alice, bob, sdkmath.NewInt(-1)), ErrInvalidAmount)
}

func TestUnknownBalanceIsZero(t *testing.T) {
	l := NewInMemory()
	require.True(t, l.BalanceOf(token, alice).IsZero())
}
