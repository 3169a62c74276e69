package pool

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Weight bounds are denormalized: a token's share of pool value is its weight
// divided by the sum of all weights. The spread between MaxTotalWeight and
// MaxWeight leaves headroom for migration steps on the remaining tokens.
var (
	MinWeight      = sdkmath.LegacyMustNewDecFromStr("0.25")
	MaxWeight      = sdkmath.LegacyMustNewDecFromStr("25.0")
	MaxTotalWeight = sdkmath.LegacyMustNewDecFromStr("27.0")

	MinFee = sdkmath.LegacyMustNewDecFromStr("0.000001")
	MaxFee = sdkmath.LegacyMustNewDecFromStr("0.1")

	// Single-transaction impact bounds relative to the affected token's
	// balance.
	MaxInRatio  = sdkmath.LegacyMustNewDecFromStr("0.5")
	MaxOutRatio = sdkmath.LegacyMustNewDecFromStr("0.333333333333333334")
)

// InitialShares is the share-token supply minted by Initialize.
var InitialShares = sdkmath.NewIntWithDecimal(100, 18)

const (
	// MinBoundTokens and MaxBoundTokens bound the constituent count.
	MinBoundTokens = 2
	MaxBoundTokens = 10

	// WeightUpdatePeriod rate-limits the migration rule per token. Excess
	// attempts inside the window are silent no-ops.
	WeightUpdatePeriod = time.Hour
)
