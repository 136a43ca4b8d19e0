package trade

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-engine/internal/auth"
	"github.com/atmx/options-engine/internal/contract"
	"github.com/atmx/options-engine/internal/custody"
	"github.com/atmx/options-engine/internal/market"
	"github.com/atmx/options-engine/internal/metrics"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
	"github.com/atmx/options-engine/internal/store"
)

// OrderSpec identifies an option either by symbol (SOL-1D-C-150.25) or by
// explicit fields. The symbol wins when both are given.
type OrderSpec struct {
	Symbol   string          `json:"symbol,omitempty"`
	Type     string          `json:"type,omitempty"`
	Strike   decimal.Decimal `json:"strike"`
	Tenor    string          `json:"tenor,omitempty"`
	Quantity uint64          `json:"quantity"`
}

// BuyRequest is the JSON body for POST /markets/{marketID}/buy.
type BuyRequest struct {
	OrderSpec
	MaxPremium uint64 `json:"max_premium,omitempty"` // token base units; 0 = no bound
}

// QuoteResponse prices an order without writing it.
type QuoteResponse struct {
	MarketID         string           `json:"market_id"`
	Type             model.OptionType `json:"type"`
	Strike           decimal.Decimal  `json:"strike"`
	Tenor            string           `json:"tenor"`
	Quantity         uint64           `json:"quantity"`
	Spot             decimal.Decimal  `json:"spot"`
	PremiumPerUnit   decimal.Decimal  `json:"premium_per_unit_usd"`
	PremiumUSD       decimal.Decimal  `json:"premium_usd"`
	PremiumTokens    uint64           `json:"premium_tokens"`
	FeeTokens        uint64           `json:"fee_tokens"`
	CollateralTokens uint64           `json:"collateral_tokens"`
	Available        uint64           `json:"available"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// BuyResponse is returned from a purchase.
type BuyResponse struct {
	QuoteResponse
	Holder  string            `json:"holder"`
	Slot    int               `json:"slot"`
	Order   model.OptionOrder `json:"order"`
	EventID string            `json:"event_id"`
}

// SlotRequest is the JSON body for exercise and settle. Holder is only read
// by settle; exercise always acts on the caller's own ledger.
type SlotRequest struct {
	Holder string `json:"holder,omitempty"`
	Slot   int    `json:"slot"`
}

// ExerciseResponse is returned from an exercise.
type ExerciseResponse struct {
	MarketID     string          `json:"market_id"`
	Holder       string          `json:"holder"`
	Slot         int             `json:"slot"`
	Spot         decimal.Decimal `json:"spot"`
	ProfitTokens uint64          `json:"profit_tokens"`
	Payout       uint64          `json:"payout"`
	Released     uint64          `json:"released_collateral"`
	EventID      string          `json:"event_id"`
}

// SettleResponse is returned from settling an expired position.
type SettleResponse struct {
	MarketID string `json:"market_id"`
	Holder   string `json:"holder"`
	Slot     int    `json:"slot"`
	Released uint64 `json:"released_collateral"`
	EventID  string `json:"event_id"`
}

// PositionView is one live slot of a holder's ledger.
type PositionView struct {
	Slot             int              `json:"slot"`
	MarketID         string           `json:"market_id"`
	Type             model.OptionType `json:"type"`
	Strike           decimal.Decimal  `json:"strike"`
	Quantity         uint64           `json:"quantity"`
	PremiumPaid      uint64           `json:"premium_paid"`
	Collateral       uint64           `json:"collateral"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ExercisableUntil time.Time        `json:"exercisable_until"`
	Settleable       bool             `json:"settleable"`
}

// resolve turns an OrderSpec into engine inputs for market m.
func resolve(spec OrderSpec, m model.Market) (model.OptionType, uint64, model.Tenor, error) {
	if spec.Symbol != "" {
		sym, err := contract.ParseSymbol(spec.Symbol)
		if err != nil {
			return "", 0, 0, err
		}
		if !strings.EqualFold(sym.Asset, m.Name) {
			return "", 0, 0, fmt.Errorf("%w: %s does not trade on market %s",
				contract.ErrInvalidSymbol, sym.Raw, m.Name)
		}
		strike, err := sym.StrikeUnits()
		return sym.Type, strike, sym.Tenor, err
	}

	typ, err := model.ParseOptionType(spec.Type)
	if err != nil {
		return "", 0, 0, err
	}
	tenor, err := model.ParseTenor(spec.Tenor)
	if err != nil {
		return "", 0, 0, err
	}
	strike, err := contract.PriceUnits(spec.Strike)
	if err != nil {
		return "", 0, 0, err
	}
	return typ, strike, tenor, nil
}

// Quote handles GET /api/v1/markets/{marketID}/quote
// Query: symbol=SOL-1D-C-150 or type, strike, tenor; plus quantity.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spec := OrderSpec{Symbol: q.Get("symbol"), Type: q.Get("type"), Tenor: q.Get("tenor")}
	if v := q.Get("strike"); v != "" {
		strike, err := decimal.NewFromString(v)
		if err != nil {
			s.fail(w, "quote", &requestError{msg: "invalid strike: " + v})
			return
		}
		spec.Strike = strike
	}
	spec.Quantity = 1
	if v := q.Get("quantity"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.fail(w, "quote", &requestError{msg: "invalid quantity: " + v})
			return
		}
		spec.Quantity = n
	}
	if spec.Quantity == 0 {
		s.fail(w, "quote", model.ErrInvalidQuantity)
		return
	}

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "quote", err)
		return
	}
	typ, strike, tenor, err := resolve(spec, *m)
	if err != nil {
		s.fail(w, "quote", err)
		return
	}
	now := s.now()
	spot, err := s.spot(ctx, *m, now)
	if err != nil {
		s.fail(w, "quote", err)
		return
	}

	in, err := s.engine.QuoteInput(*m, typ, strike, spot, spec.Quantity, tenor)
	if err != nil {
		s.fail(w, "quote", err)
		return
	}
	pricer := s.engine.Pricer()
	quote, err := pricer.Quote(in)
	if err != nil {
		s.fail(w, "quote", err)
		return
	}
	coll, err := pricer.RequiredCollateral(in)
	if err != nil {
		s.fail(w, "quote", err)
		return
	}
	available, _ := m.Available()

	writeJSON(w, http.StatusOK, QuoteResponse{
		MarketID:         m.ID,
		Type:             typ,
		Strike:           model.USD(strike),
		Tenor:            tenor.String(),
		Quantity:         spec.Quantity,
		Spot:             model.USD(spot),
		PremiumPerUnit:   model.USD(quote.PerUnitUSD),
		PremiumUSD:       model.USD(quote.PremiumUSD),
		PremiumTokens:    quote.PremiumTokens,
		FeeTokens:        quote.FeeTokens,
		CollateralTokens: coll.Tokens,
		Available:        available,
		ExpiresAt:        now.Add(tenor.Duration()),
	})
}

// Buy handles POST /api/v1/markets/{marketID}/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	holder, ok := s.authorize(w, r, auth.OpBuy)
	if !ok {
		return
	}
	var req BuyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "buy", err)
		return
	}

	ctx := r.Context()
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "buy", err)
		return
	}
	typ, strike, tenor, err := resolve(req.OrderSpec, *m)
	if err != nil {
		s.fail(w, "buy", err)
		return
	}
	now := s.now()
	spot, err := s.spot(ctx, *m, now)
	if err != nil {
		s.fail(w, "buy", err)
		return
	}
	ledger, err := s.primary.GetLedger(ctx, holder)
	if err != nil {
		s.fail(w, "buy", err)
		return
	}

	res, err := s.engine.Buy(*m, ledger, market.BuyRequest{
		Holder:     holder,
		Type:       typ,
		Strike:     strike,
		Tenor:      tenor,
		Quantity:   req.Quantity,
		Spot:       spot,
		MaxPremium: req.MaxPremium,
		Now:        now,
	})
	if err != nil {
		s.fail(w, "buy", err)
		return
	}

	xfer := custody.Transfer{
		MarketID: m.ID,
		Kind:     model.EventBuy,
		From:     holder,
		To:       custody.VaultAccount(m.ID),
		Amount:   res.Quote.PremiumTokens,
	}
	if err := s.transfer(ctx, xfer); err != nil {
		s.fail(w, "buy", err)
		return
	}

	ev, err := s.commit(ctx, store.Transition{
		Market: res.Market,
		Holder: holder,
		Ledger: ledger,
		Event:  *res.Event,
	}, started, xfer)
	if err != nil {
		s.fail(w, "buy", err)
		return
	}
	metrics.OptionsBought.WithLabelValues(m.ID, string(typ)).Add(float64(req.Quantity))

	slog.Info("option bought",
		"market", m.ID,
		"holder", holder,
		"slot", res.Slot,
		"type", typ,
		"strike", model.USD(strike).String(),
		"tenor", tenor.String(),
		"qty", req.Quantity,
		"premium", res.Quote.PremiumTokens,
		"collateral", res.Collateral.Tokens,
	)

	available, _ := res.Market.Available()
	writeJSON(w, http.StatusOK, BuyResponse{
		QuoteResponse: QuoteResponse{
			MarketID:         m.ID,
			Type:             typ,
			Strike:           model.USD(strike),
			Tenor:            tenor.String(),
			Quantity:         req.Quantity,
			Spot:             model.USD(spot),
			PremiumPerUnit:   model.USD(res.Quote.PerUnitUSD),
			PremiumUSD:       model.USD(res.Quote.PremiumUSD),
			PremiumTokens:    res.Quote.PremiumTokens,
			FeeTokens:        res.Quote.FeeTokens,
			CollateralTokens: res.Collateral.Tokens,
			Available:        available,
			ExpiresAt:        res.Order.ExpiryTime(),
		},
		Holder:  holder,
		Slot:    res.Slot,
		Order:   res.Order,
		EventID: ev.ID,
	})
}

// Exercise handles POST /api/v1/markets/{marketID}/exercise
func (s *Service) Exercise(w http.ResponseWriter, r *http.Request) {
	holder, ok := s.authorize(w, r, auth.OpExercise)
	if !ok {
		return
	}
	var req SlotRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "exercise", err)
		return
	}

	ctx := r.Context()
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "exercise", err)
		return
	}
	now := s.now()
	spot, err := s.spot(ctx, *m, now)
	if err != nil {
		s.fail(w, "exercise", err)
		return
	}
	ledger, err := s.primary.GetLedger(ctx, holder)
	if err != nil {
		s.fail(w, "exercise", err)
		return
	}

	res, err := s.engine.Exercise(*m, ledger, req.Slot, spot, now)
	if err != nil {
		s.fail(w, "exercise", err)
		return
	}

	xfer := custody.Transfer{
		MarketID: m.ID,
		Kind:     model.EventExercise,
		From:     custody.VaultAccount(m.ID),
		To:       holder,
		Amount:   res.Payout,
	}
	if err := s.transfer(ctx, xfer); err != nil {
		s.fail(w, "exercise", err)
		return
	}

	ev, err := s.commit(ctx, store.Transition{
		Market: res.Market,
		Holder: holder,
		Ledger: ledger,
		Event:  *res.Event,
	}, started, xfer)
	if err != nil {
		s.fail(w, "exercise", err)
		return
	}
	metrics.PayoutTokens.WithLabelValues(m.ID).Add(float64(res.Payout))

	slog.Info("option exercised",
		"market", m.ID,
		"holder", holder,
		"slot", req.Slot,
		"spot", model.USD(spot).String(),
		"profit", res.ProfitTokens,
		"payout", res.Payout,
	)
	writeJSON(w, http.StatusOK, ExerciseResponse{
		MarketID:     m.ID,
		Holder:       holder,
		Slot:         req.Slot,
		Spot:         model.USD(spot),
		ProfitTokens: res.ProfitTokens,
		Payout:       res.Payout,
		Released:     res.Order.MaxPotentialPayoutInTokens,
		EventID:      ev.ID,
	})
}

// Settle handles POST /api/v1/markets/{marketID}/settle
// Any identified principal may settle any holder's expired position.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	keeper, ok := s.authorize(w, r, auth.OpSettle)
	if !ok {
		return
	}
	var req SlotRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "settle", err)
		return
	}
	if req.Holder == "" {
		req.Holder = keeper
	}

	ctx := r.Context()
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "settle", err)
		return
	}
	ledger, err := s.primary.GetLedger(ctx, req.Holder)
	if err != nil {
		s.fail(w, "settle", err)
		return
	}

	res, err := s.engine.SettleExpired(*m, ledger, req.Slot, s.now())
	if err != nil {
		s.fail(w, "settle", err)
		return
	}

	ev, err := s.commit(ctx, store.Transition{
		Market: res.Market,
		Holder: req.Holder,
		Ledger: ledger,
		Event:  *res.Event,
	}, started)
	if err != nil {
		s.fail(w, "settle", err)
		return
	}

	slog.Info("expired option settled",
		"market", m.ID,
		"holder", req.Holder,
		"keeper", keeper,
		"slot", req.Slot,
		"released", res.Released,
	)
	writeJSON(w, http.StatusOK, SettleResponse{
		MarketID: m.ID,
		Holder:   req.Holder,
		Slot:     req.Slot,
		Released: res.Released,
		EventID:  ev.ID,
	})
}

// GetPositions handles GET /api/v1/accounts/{holder}/positions
// Optionally filtered by ?market=<marketID>.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	holder := chi.URLParam(r, "holder")
	ledger, err := s.store.GetLedger(r.Context(), holder)
	if err != nil {
		s.fail(w, "get_positions", err)
		return
	}

	open := ledger.Open()
	if marketID := r.URL.Query().Get("market"); marketID != "" {
		open = ledger.OpenInMarket(marketID)
	}

	tolerance := s.engine.Params().ExerciseTolerance
	now := s.now()
	views := make([]PositionView, 0, len(open))
	for _, p := range open {
		views = append(views, newPositionView(p, tolerance, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func newPositionView(p positions.Position, tolerance time.Duration, now time.Time) PositionView {
	o := p.Order
	until := o.ExpiryTime().Add(tolerance)
	return PositionView{
		Slot:             p.Slot,
		MarketID:         o.MarketID,
		Type:             o.OptionType,
		Strike:           model.USD(o.StrikePrice),
		Quantity:         o.Quantity,
		PremiumPaid:      o.PremiumPaid,
		Collateral:       o.MaxPotentialPayoutInTokens,
		ExpiresAt:        o.ExpiryTime(),
		ExercisableUntil: until,
		Settleable:       now.After(until),
	}
}
