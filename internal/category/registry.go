/*

Category ranking: market-cap computation and top-N selection inside a
whitelisted token group.

A token may belong to at most one category globally, otherwise the same asset
could be double-counted across pools or used to manufacture fake collateral.
Sorting is caller-proposed and verified on the spot against freshly computed
market caps; verifying a candidate order costs O(n) where sorting in place
would not, and a manipulated ordering is rejected outright.

*/

package category

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/openweight/simm/internal/fixedpoint"
	"github.com/openweight/simm/internal/types"
)

var (
	ErrAlreadyCategorized = errors.New("category: token already belongs to a category")
	ErrUnknownCategory    = errors.New("category: unknown category id")
	ErrDuplicateCategory  = errors.New("category: category id already exists")
	ErrInvalidOrder       = errors.New("category: proposed order is not strictly descending by market cap")
	ErrNotSorted          = errors.New("category: not sorted within the freshness window")
	ErrRateLimited        = errors.New("category: sorted too recently")
	ErrInsufficientTokens = errors.New("category: fewer tokens than requested")
)

const (
	// DefaultSortPeriod is both the re-sort rate limit and the freshness
	// window GetTopTokens enforces.
	DefaultSortPeriod = 24 * time.Hour
	// Default TWAP window bounds for market-cap queries. Observations are
	// spaced a day apart, so the lower bound has to sit below that.
	DefaultMinPriceAge = 12 * time.Hour
	DefaultMaxPriceAge = 48 * time.Hour
)

// PriceSource supplies time-weighted average prices in reference-asset terms.
type PriceSource interface {
	ComputeAverageTokenPrice(token common.Address, minElapsed, maxElapsed time.Duration) (fixedpoint.UQ112x112, error)
}

// SupplySource reports a token's current total supply.
type SupplySource interface {
	TotalSupply(token common.Address) (sdkmath.Int, error)
}

// Category is one whitelisted group with its last verified ordering.
type Category struct {
	ID           types.CategoryID
	Tokens       []common.Address // descending by market cap once sorted
	LastSortedAt time.Time
}

// Config wires a Registry.
type Config struct {
	Prices      PriceSource
	Supply      SupplySource
	SortPeriod  time.Duration
	MinPriceAge time.Duration
	MaxPriceAge time.Duration
}

// Registry owns the category table and the global token->category index. No
// other component writes this state.
type Registry struct {
	prices        PriceSource
	supply        SupplySource
	sortPeriod    time.Duration
	minPriceAge   time.Duration
	maxPriceAge   time.Duration
	categories    map[types.CategoryID]*Category
	tokenCategory map[common.Address]types.CategoryID
	now           func() time.Time
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Prices == nil {
		return nil, fmt.Errorf("category: price source cannot be nil")
	}
	if cfg.Supply == nil {
		return nil, fmt.Errorf("category: supply source cannot be nil")
	}
	if cfg.SortPeriod == 0 {
		cfg.SortPeriod = DefaultSortPeriod
	}
	if cfg.MinPriceAge == 0 {
		cfg.MinPriceAge = DefaultMinPriceAge
	}
	if cfg.MaxPriceAge == 0 {
		cfg.MaxPriceAge = DefaultMaxPriceAge
	}
	return &Registry{
		prices:        cfg.Prices,
		supply:        cfg.Supply,
		sortPeriod:    cfg.SortPeriod,
		minPriceAge:   cfg.MinPriceAge,
		maxPriceAge:   cfg.MaxPriceAge,
		categories:    make(map[types.CategoryID]*Category),
		tokenCategory: make(map[common.Address]types.CategoryID),
		now:           time.Now,
	}, nil
}

// AddCategory creates an empty category.
func (r *Registry) AddCategory(id types.CategoryID) error {
	if _, exists := r.categories[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateCategory, id)
	}
	r.categories[id] = &Category{ID: id}
	return nil
}

// AddToken appends a token to a category. Global uniqueness is enforced: a
// token already in any category is rejected.
func (r *Registry) AddToken(id types.CategoryID, token common.Address) error {
	cat, ok := r.categories[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, id)
	}
	if owner, taken := r.tokenCategory[token]; taken {
		return fmt.Errorf("%w: %s in category %d", ErrAlreadyCategorized, token.Hex(), owner)
	}
	cat.Tokens = append(cat.Tokens, token)
	r.tokenCategory[token] = id
	return nil
}

// Tokens returns a copy of the stored ordering.
func (r *Registry) Tokens(id types.CategoryID) ([]common.Address, error) {
	cat, ok := r.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, id)
	}
	out := make([]common.Address, len(cat.Tokens))
	copy(out, cat.Tokens)
	return out, nil
}

// CategoryOf reports which category a token belongs to, if any.
func (r *Registry) CategoryOf(token common.Address) (types.CategoryID, bool) {
	id, ok := r.tokenCategory[token]
	return id, ok
}

// IsTokenInCategory reports membership.
func (r *Registry) IsTokenInCategory(id types.CategoryID, token common.Address) bool {
	owner, ok := r.tokenCategory[token]
	return ok && owner == id
}

// ComputeAverageMarketCap returns average price times total supply, truncated
// to the integer domain.
func (r *Registry) ComputeAverageMarketCap(token common.Address) (sdkmath.Int, error) {
	price, err := r.prices.ComputeAverageTokenPrice(token, r.minPriceAge, r.maxPriceAge)
	if err != nil {
		return sdkmath.Int{}, err
	}
	supply, err := r.supply.TotalSupply(token)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("category: total supply for %s: %w", token.Hex(), err)
	}
	mcap, err := price.MulInt(supply)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("category: market cap for %s: %w", token.Hex(), err)
	}
	return mcap, nil
}

// ComputeAverageMarketCaps is the batch variant with positional outcomes.
func (r *Registry) ComputeAverageMarketCaps(tokens []common.Address) ([]sdkmath.Int, []error) {
	caps := make([]sdkmath.Int, len(tokens))
	errs := make([]error, len(tokens))
	for i, token := range tokens {
		caps[i], errs[i] = r.ComputeAverageMarketCap(token)
	}
	return caps, errs
}

// OrderTokensByMarketCap verifies a caller-proposed descending order against
// freshly computed market caps and stores it. Re-sorting is rate limited to
// once per sort period.
func (r *Registry) OrderTokensByMarketCap(id types.CategoryID, proposed []common.Address) error {
	cat, ok := r.categories[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, id)
	}
	if !cat.LastSortedAt.IsZero() && r.now().Sub(cat.LastSortedAt) < r.sortPeriod {
		return fmt.Errorf("%w: category %d", ErrRateLimited, id)
	}
	if len(proposed) != len(cat.Tokens) {
		return fmt.Errorf("%w: expected %d tokens, got %d", ErrInvalidOrder, len(cat.Tokens), len(proposed))
	}
	seen := make(map[common.Address]struct{}, len(proposed))
	for _, token := range proposed {
		if !r.IsTokenInCategory(id, token) {
			return fmt.Errorf("%w: %s not in category %d", ErrInvalidOrder, token.Hex(), id)
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("%w: duplicate token %s", ErrInvalidOrder, token.Hex())
		}
		seen[token] = struct{}{}
	}

	var prev sdkmath.Int
	for i, token := range proposed {
		mcap, err := r.ComputeAverageMarketCap(token)
		if err != nil {
			return err
		}
		if i > 0 && mcap.GTE(prev) {
			return fmt.Errorf("%w: %s not below its predecessor", ErrInvalidOrder, token.Hex())
		}
		prev = mcap
	}

	cat.Tokens = append(cat.Tokens[:0], proposed...)
	cat.LastSortedAt = r.now()
	return nil
}

// GetTopTokens returns the first n of the stored order. The order must have
// been verified within the sort period.
func (r *Registry) GetTopTokens(id types.CategoryID, n int) ([]common.Address, error) {
	cat, ok := r.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, id)
	}
	if cat.LastSortedAt.IsZero() || r.now().Sub(cat.LastSortedAt) > r.sortPeriod {
		return nil, fmt.Errorf("%w: category %d", ErrNotSorted, id)
	}
	if n > len(cat.Tokens) {
		return nil, fmt.Errorf("%w: category %d holds %d", ErrInsufficientTokens, id, len(cat.Tokens))
	}
	out := make([]common.Address, n)
	copy(out, cat.Tokens[:n])
	return out, nil
}
