/*

This is a custom type for index constituents which carries the static metadata
the engine needs alongside addresses.

*/

package types

import (
	"github.com/ethereum/go-ethereum/common"
)

type Token struct {
	Symbol   string         `json:"symbol"`   // e.g., "WBTC"
	Address  common.Address `json:"address"`  // ERC-20 contract address
	Decimals uint8          `json:"decimals"` // e.g., 8
}

// CategoryID identifies a whitelisted token group.
type CategoryID uint64
