package trade

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-engine/internal/auth"
	"github.com/atmx/options-engine/internal/custody"
	"github.com/atmx/options-engine/internal/lpshares"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/store"
)

// DepositRequest is the JSON body for POST /markets/{marketID}/deposit.
// Amounts are token base units. MinSharesOut zero accepts any positive
// number of shares.
type DepositRequest struct {
	Amount       uint64 `json:"amount"`
	MinSharesOut uint64 `json:"min_shares_out"`
}

// DepositResponse is returned from a deposit.
type DepositResponse struct {
	MarketID     string `json:"market_id"`
	Holder       string `json:"holder"`
	Amount       uint64 `json:"amount"`
	Shares       uint64 `json:"shares"`
	ShareBalance uint64 `json:"share_balance"`
	EventID      string `json:"event_id"`
}

// WithdrawRequest is the JSON body for POST /markets/{marketID}/withdraw.
// MinAmountOut zero disables the slippage guard.
type WithdrawRequest struct {
	Shares       uint64 `json:"shares"`
	MinAmountOut uint64 `json:"min_amount_out"`
}

// WithdrawResponse is returned from a withdrawal.
type WithdrawResponse struct {
	MarketID        string `json:"market_id"`
	Holder          string `json:"holder"`
	SharesBurned    uint64 `json:"shares_burned"`
	Amount          uint64 `json:"amount"`
	RequestedAmount uint64 `json:"requested_amount"`
	ReserveShare    uint64 `json:"reserve_share"`
	PremiumShare    uint64 `json:"premium_share"`
	ShareBalance    uint64 `json:"share_balance"`
	EventID         string `json:"event_id"`
}

// ShareBalance is returned by GET /markets/{marketID}/shares/{holder}.
type ShareBalance struct {
	MarketID string `json:"market_id"`
	Holder   string `json:"holder"`
	Shares   uint64 `json:"shares"`

	// Redeemable is what burning every share would pay out now.
	Redeemable      uint64          `json:"redeemable"`
	RedeemableUnits decimal.Decimal `json:"redeemable_tokens"`
}

// Deposit handles POST /api/v1/markets/{marketID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	holder, ok := s.authorize(w, r, auth.OpDeposit)
	if !ok {
		return
	}
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "deposit", err)
		return
	}
	if req.MinSharesOut == 0 {
		req.MinSharesOut = 1
	}

	ctx := r.Context()
	started := time.Now()

	// Serialize transitions.
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}
	balance, err := s.primary.GetShares(ctx, m.ID, holder)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}

	res, err := s.engine.Deposit(*m, holder, req.Amount, req.MinSharesOut, s.now())
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}

	xfer := custody.Transfer{
		MarketID: m.ID,
		Kind:     model.EventDeposit,
		From:     holder,
		To:       custody.VaultAccount(m.ID),
		Amount:   req.Amount,
	}
	if err := s.transfer(ctx, xfer); err != nil {
		s.fail(w, "deposit", err)
		return
	}

	ev, err := s.commit(ctx, store.Transition{
		Market:       res.Market,
		Holder:       holder,
		SharesMinted: res.Shares,
		Event:        *res.Event,
	}, started, xfer)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}

	slog.Info("liquidity deposited",
		"market", m.ID,
		"holder", holder,
		"amount", req.Amount,
		"shares", res.Shares,
		"lp_minted", res.Market.LPMinted,
	)
	writeJSON(w, http.StatusOK, DepositResponse{
		MarketID:     m.ID,
		Holder:       holder,
		Amount:       req.Amount,
		Shares:       res.Shares,
		ShareBalance: balance + res.Shares,
		EventID:      ev.ID,
	})
}

// Withdraw handles POST /api/v1/markets/{marketID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	holder, ok := s.authorize(w, r, auth.OpWithdraw)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "withdraw", err)
		return
	}

	ctx := r.Context()
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	balance, err := s.primary.GetShares(ctx, m.ID, holder)
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	if req.Shares > balance {
		s.fail(w, "withdraw", fmt.Errorf("withdraw: %w: %d requested, %d held",
			model.ErrInsufficientShares, req.Shares, balance))
		return
	}

	res, err := s.engine.Withdraw(*m, holder, req.Shares, req.MinAmountOut, s.now())
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	red := res.Redemption

	xfer := custody.Transfer{
		MarketID: m.ID,
		Kind:     model.EventWithdraw,
		From:     custody.VaultAccount(m.ID),
		To:       holder,
		Amount:   red.WithdrawAmount,
	}
	if err := s.transfer(ctx, xfer); err != nil {
		s.fail(w, "withdraw", err)
		return
	}

	ev, err := s.commit(ctx, store.Transition{
		Market:       res.Market,
		Holder:       holder,
		SharesBurned: red.SharesBurned,
		Event:        *res.Event,
	}, started, xfer)
	if err != nil {
		s.fail(w, "withdraw", err)
		return
	}

	slog.Info("liquidity withdrawn",
		"market", m.ID,
		"holder", holder,
		"shares_burned", red.SharesBurned,
		"amount", red.WithdrawAmount,
		"from_reserve", red.ReserveShare,
		"from_premiums", red.PremiumShare,
	)
	writeJSON(w, http.StatusOK, WithdrawResponse{
		MarketID:        m.ID,
		Holder:          holder,
		SharesBurned:    red.SharesBurned,
		Amount:          red.WithdrawAmount,
		RequestedAmount: red.RequestedAmount,
		ReserveShare:    red.ReserveShare,
		PremiumShare:    red.PremiumShare,
		ShareBalance:    balance - red.SharesBurned,
		EventID:         ev.ID,
	})
}

// GetShares handles GET /api/v1/markets/{marketID}/shares/{holder}
func (s *Service) GetShares(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "get_shares", err)
		return
	}
	holder := chi.URLParam(r, "holder")
	shares, err := s.store.GetShares(ctx, m.ID, holder)
	if err != nil {
		s.fail(w, "get_shares", err)
		return
	}

	resp := ShareBalance{MarketID: m.ID, Holder: holder, Shares: shares}
	if shares > 0 {
		// Nothing redeemable (fully committed pool) is not an error here.
		if red, err := lpshares.RedeemShares(shares, *m); err == nil {
			resp.Redeemable = red.WithdrawAmount
		}
	}
	resp.RedeemableUnits = model.TokenAmount(resp.Redeemable, m.AssetDecimals)
	writeJSON(w, http.StatusOK, resp)
}
