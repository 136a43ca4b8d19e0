package trade

import (
	"errors"
	"net/http"

	"github.com/atmx/options-engine/internal/contract"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/oracle"
	"github.com/atmx/options-engine/internal/risk"
	"github.com/atmx/options-engine/internal/store"
)

// requestError is a malformed request caught before the engine runs.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// custodyError wraps a failed token transfer.
type custodyError struct {
	err error
}

func (e *custodyError) Error() string { return "custody transfer failed: " + e.err.Error() }
func (e *custodyError) Unwrap() error { return e.err }

var statusTable = []struct {
	err    error
	status int
	reason string
}{
	{model.ErrUnauthorized, http.StatusForbidden, "unauthorized"},

	{store.ErrMarketNotFound, http.StatusNotFound, "market_not_found"},
	{model.ErrPositionNotFound, http.StatusNotFound, "position_not_found"},

	{model.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{model.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{model.ErrDustAmount, http.StatusBadRequest, "dust_amount"},
	{model.ErrInvalidExpiry, http.StatusBadRequest, "invalid_expiry"},
	{model.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{model.ErrInvalidStrike, http.StatusBadRequest, "invalid_strike"},
	{model.ErrInvalidVolatility, http.StatusBadRequest, "invalid_volatility"},
	{model.ErrInvalidOptionType, http.StatusBadRequest, "invalid_option_type"},
	{contract.ErrInvalidSymbol, http.StatusBadRequest, "invalid_symbol"},
	{contract.ErrInvalidStrike, http.StatusBadRequest, "invalid_strike"},

	{store.ErrMarketExists, http.StatusConflict, "market_exists"},
	{store.ErrConflict, http.StatusConflict, "concurrent_update"},
	{model.ErrMarketClosed, http.StatusConflict, "market_closed"},
	{model.ErrCannotWithdraw, http.StatusConflict, "cannot_withdraw"},
	{model.ErrSlippageExceeded, http.StatusConflict, "slippage"},
	{model.ErrInsufficientShares, http.StatusConflict, "insufficient_shares"},
	{model.ErrInsufficientCollateral, http.StatusConflict, "insufficient_collateral"},
	{model.ErrOrdersLimitExceeded, http.StatusConflict, "orders_limit"},
	{model.ErrExerciseIsOverdue, http.StatusConflict, "exercise_overdue"},
	{model.ErrNotExpired, http.StatusConflict, "not_expired"},
	{model.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{risk.ErrUtilizationExceeded, http.StatusConflict, "utilization_limit"},
	{risk.ErrHolderExposureExceeded, http.StatusConflict, "holder_limit"},

	{model.ErrPremiumCalcError, http.StatusUnprocessableEntity, "pricing"},
	{model.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},

	{oracle.ErrStalePrice, http.StatusServiceUnavailable, "stale_price"},
	{oracle.ErrFeedNotFound, http.StatusServiceUnavailable, "feed_not_found"},
}

// classify maps an error to an HTTP status and a metrics reason label.
func classify(err error) (int, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, "bad_request"
	}
	var custErr *custodyError
	if errors.As(err, &custErr) {
		return http.StatusBadGateway, "custody"
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status, e.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}
