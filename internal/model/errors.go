package model

import (
	"errors"

	"github.com/atmx/options-engine/internal/fixedpoint"
)

// Error kinds produced by the core. Operations wrap them with context;
// compare with errors.Is.
var (
	ErrInvalidAmount          = errors.New("options: invalid amount")
	ErrInvalidQuantity        = errors.New("options: invalid quantity")
	ErrDustAmount             = errors.New("options: amount too small to mint a share")
	ErrCannotWithdraw         = errors.New("options: nothing withdrawable")
	ErrSlippageExceeded       = errors.New("options: slippage exceeded")
	ErrInsufficientShares     = errors.New("options: insufficient shares")
	ErrInsufficientCollateral = errors.New("options: insufficient collateral")
	ErrOverflow               = fixedpoint.ErrOverflow
	ErrInvalidState           = errors.New("options: invalid state")
	ErrPremiumCalcError       = errors.New("options: premium calculation error")
	ErrOrdersLimitExceeded    = errors.New("options: orders limit exceeded")
	ErrExerciseIsOverdue      = errors.New("options: exercise is overdue")
	ErrInvalidExpiry          = errors.New("options: invalid expiry")

	ErrUnauthorized      = errors.New("options: unauthorized")
	ErrInvalidPrice      = errors.New("options: invalid price")
	ErrInvalidStrike     = errors.New("options: invalid strike")
	ErrInvalidVolatility = errors.New("options: invalid volatility")
	ErrPositionNotFound  = errors.New("options: position not found")
	ErrNotExpired        = errors.New("options: position not expired")
	ErrMarketClosed      = errors.New("options: market closed")
	ErrInvalidOptionType = errors.New("options: invalid option type")
)
