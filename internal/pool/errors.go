package pool

import "errors"

var (
	ErrNotInitialized          = errors.New("pool: not initialized")
	ErrDuplicateInitialization = errors.New("pool: already initialized")
	ErrNotBound                = errors.New("pool: token is not bound")
	ErrAlreadyBound            = errors.New("pool: token is already bound")
	ErrTokenNotReady           = errors.New("pool: token has not reached its minimum balance")
	ErrMaxBoundTokens          = errors.New("pool: maximum bound token count reached")
	ErrBelowMinWeight          = errors.New("pool: weight below minimum")
	ErrAboveMaxWeight          = errors.New("pool: weight above maximum")
	ErrAboveMaxTotalWeight     = errors.New("pool: total weight above maximum")
	ErrInvalidFee              = errors.New("pool: swap fee outside allowed bounds")
	ErrInvalidAmount           = errors.New("pool: amount must be positive")
	ErrSameToken               = errors.New("pool: tokenIn and tokenOut are identical")
	ErrMaxInRatio              = errors.New("pool: input exceeds max-in ratio")
	ErrMinOutRatio             = errors.New("pool: output exceeds max-out ratio")
	ErrLimitIn                 = errors.New("pool: required input exceeds limit")
	ErrLimitOut                = errors.New("pool: computed output below limit")
	ErrInsufficientShares      = errors.New("pool: insufficient share balance")
	ErrReentrantCall           = errors.New("pool: reentrant call")
	ErrFlashLoanNotRepaid      = errors.New("pool: flash loan not repaid with fee")
	ErrMathApprox              = errors.New("pool: math approximation produced a degenerate result")
)
