package trade

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-engine/internal/auth"
	"github.com/atmx/options-engine/internal/custody"
	"github.com/atmx/options-engine/internal/market"
	"github.com/atmx/options-engine/internal/metrics"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/oracle"
	"github.com/atmx/options-engine/internal/store"
)

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	ID            string                  `json:"id,omitempty"` // empty → generated
	Index         uint16                  `json:"index"`
	Name          string                  `json:"name"` // asset symbol, e.g. SOL
	AssetMint     string                  `json:"asset_mint"`
	AssetDecimals uint8                   `json:"asset_decimals"`
	PriceFeed     string                  `json:"price_feed"`
	FeeBps        uint64                  `json:"fee_bps"`
	Volatility    model.VolatilityBuckets `json:"volatility"` // bps per tenor: 1H, 4H, 1D, 3D, 1W
}

// VolatilityRequest is the JSON body for PUT /markets/{marketID}/volatility.
type VolatilityRequest struct {
	Volatility model.VolatilityBuckets `json:"volatility"`
}

// PriceRequest is the JSON body for PUT /oracle/{feedID}.
type PriceRequest struct {
	Price       int64     `json:"price"`
	Exponent    int32     `json:"exponent"`
	PublishTime time.Time `json:"publish_time,omitempty"` // zero → now
}

// MarketView is a market with display amounts.
type MarketView struct {
	model.Market
	TVL       decimal.Decimal `json:"tvl"`
	Available decimal.Decimal `json:"available"`
	Fees      decimal.Decimal `json:"fees_owed"`
}

// AdminResponse is returned by admin transitions.
type AdminResponse struct {
	Market  MarketView `json:"market"`
	Amount  uint64     `json:"amount,omitempty"`
	EventID string     `json:"event_id"`
}

func newMarketView(m model.Market) MarketView {
	tvl, _ := m.TVL()
	available, _ := m.Available()
	return MarketView{
		Market:    m,
		TVL:       model.TokenAmount(tvl, m.AssetDecimals),
		Available: model.TokenAmount(available, m.AssetDecimals),
		Fees:      model.TokenAmount(m.ProtocolFees, m.AssetDecimals),
	}
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.OpCreateMarket); !ok {
		return
	}
	var req CreateMarketRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "create_market", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.fail(w, "create_market", &requestError{msg: "name is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	m, err := market.NewMarket(market.NewMarketParams{
		ID:            req.ID,
		Index:         req.Index,
		Name:          strings.ToUpper(req.Name),
		AssetMint:     req.AssetMint,
		AssetDecimals: req.AssetDecimals,
		PriceFeed:     req.PriceFeed,
		FeeBps:        req.FeeBps,
		Volatility:    req.Volatility,
	}, s.now())
	if err != nil {
		s.fail(w, "create_market", err)
		return
	}

	if err := s.store.CreateMarket(r.Context(), &m); err != nil {
		s.fail(w, "create_market", err)
		return
	}
	metrics.ActiveMarkets.Inc()
	metrics.ObserveMarket(m)

	slog.Info("market created",
		"id", m.ID,
		"name", m.Name,
		"feed", m.PriceFeed,
		"fee_bps", m.FeeBps,
	)
	writeJSON(w, http.StatusCreated, newMarketView(m))
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "get_market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(*m))
}

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?status=open|closed.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		s.fail(w, "list_markets", err)
		return
	}

	status := r.URL.Query().Get("status")
	views := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		if status != "" && m.Status != status {
			continue
		}
		views = append(views, newMarketView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

// ListEvents handles GET /api/v1/markets/{marketID}/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, "list_events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// UpdateVolatility handles PUT /api/v1/markets/{marketID}/volatility
func (s *Service) UpdateVolatility(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.OpUpdateVolatility); !ok {
		return
	}
	var req VolatilityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "update_volatility", err)
		return
	}
	s.admin(w, r, "update_volatility", func(m model.Market, now time.Time) (market.AdminResult, error) {
		return s.engine.UpdateVolatility(m, req.Volatility, now)
	})
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.OpCloseMarket); !ok {
		return
	}
	s.admin(w, r, "close_market", s.engine.Close)
}

// CollectFees handles POST /api/v1/markets/{marketID}/fees/withdraw
func (s *Service) CollectFees(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.OpCollectFees); !ok {
		return
	}
	s.admin(w, r, "collect_fees", s.engine.CollectFees)
}

// admin runs one admin transition under the service lock.
func (s *Service) admin(w http.ResponseWriter, r *http.Request, op string,
	apply func(model.Market, time.Time) (market.AdminResult, error)) {
	ctx := r.Context()
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.primary.GetMarket(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	res, err := apply(*m, s.now())
	if err != nil {
		s.fail(w, op, err)
		return
	}

	var moved []custody.Transfer
	if res.Event.Kind == model.EventFeeWithdrawal {
		xfer := custody.Transfer{
			MarketID: m.ID,
			Kind:     res.Event.Kind,
			From:     custody.VaultAccount(m.ID),
			To:       custody.FeeAccount(m.ID),
			Amount:   res.Amount,
		}
		if err := s.transfer(ctx, xfer); err != nil {
			s.fail(w, op, err)
			return
		}
		moved = append(moved, xfer)
	}

	ev, err := s.commit(ctx, store.Transition{Market: res.Market, Event: *res.Event}, started, moved...)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if ev.Kind == model.EventMarketClose {
		metrics.ActiveMarkets.Dec()
	}

	slog.Info("market updated",
		"op", op,
		"market", m.ID,
		"status", res.Market.Status,
		"amount", res.Amount,
		"event", ev.ID,
	)
	writeJSON(w, http.StatusOK, AdminResponse{
		Market:  newMarketView(res.Market),
		Amount:  res.Amount,
		EventID: ev.ID,
	})
}

// PublishPrice handles PUT /api/v1/oracle/{feedID}
// Only available with the static feed.
func (s *Service) PublishPrice(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.OpPublishPrice); !ok {
		return
	}
	if s.publisher == nil {
		writeError(w, "price publishing is disabled for this oracle source", http.StatusNotFound)
		return
	}
	var req PriceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "publish_price", err)
		return
	}
	reading := oracle.PriceReading{Price: req.Price, Exponent: req.Exponent, PublishTime: req.PublishTime}
	if reading.PublishTime.IsZero() {
		reading.PublishTime = s.now()
	}
	price, err := reading.Normalize(model.PriceDecimals)
	if err != nil {
		s.fail(w, "publish_price", err)
		return
	}

	feedID := chi.URLParam(r, "feedID")
	if err := s.publisher.Publish(r.Context(), feedID, reading); err != nil {
		s.fail(w, "publish_price", err)
		return
	}
	slog.Info("price published", "feed", feedID, "price", model.USD(price).String())
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":      feedID,
		"price":        model.USD(price),
		"publish_time": reading.PublishTime,
	})
}
