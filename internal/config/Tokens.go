package config

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// TrackedToken ties a category token to the pair contract it trades
// against the reference asset on.
type TrackedToken struct {
	Symbol string
	Token  common.Address
	Pair   common.Address
}

// Token universe configuration loaded from environment variables.
var (
	// RefToken is the reference asset every price is quoted in.
	RefToken common.Address

	// TrackedTokens is the candidate universe for the index, in the
	// order listed in TOKEN_PAIRS.
	TrackedTokens []TrackedToken
)

// loadTokenConfig parses REF_TOKEN and TOKEN_PAIRS. TOKEN_PAIRS entries
// are comma separated "SYMBOL=tokenAddress@pairAddress" triples.
func loadTokenConfig() error {
	refStr, err := getEnv("REF_TOKEN")
	if err != nil {
		return err
	}
	if !common.IsHexAddress(refStr) {
		return errors.New("REF_TOKEN is not a valid hex address: " + refStr)
	}
	RefToken = common.HexToAddress(refStr)

	pairsStr, err := getEnv("TOKEN_PAIRS")
	if err != nil {
		return err
	}

	TrackedTokens = TrackedTokens[:0]
	for _, entry := range strings.Split(pairsStr, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return errors.New("TOKEN_PAIRS entry missing '=': " + entry)
		}
		tokenStr, pairStr, ok := strings.Cut(rest, "@")
		if !ok {
			return errors.New("TOKEN_PAIRS entry missing '@': " + entry)
		}
		if !common.IsHexAddress(tokenStr) || !common.IsHexAddress(pairStr) {
			return errors.New("TOKEN_PAIRS entry has an invalid address: " + entry)
		}
		TrackedTokens = append(TrackedTokens, TrackedToken{
			Symbol: strings.TrimSpace(symbol),
			Token:  common.HexToAddress(tokenStr),
			Pair:   common.HexToAddress(pairStr),
		})
	}
	if len(TrackedTokens) == 0 {
		return errors.New("TOKEN_PAIRS did not yield any tracked tokens")
	}

	log.Debug().
		Int("tokens", len(TrackedTokens)).
		Str("RefToken", RefToken.Hex()).
		Msg("Token universe loaded successfully.")

	return nil
}
