// Package trade provides the HTTP handlers around the options market engine:
// market administration, liquidity provision, option purchase, exercise and
// settlement, and read-side queries.
//
// Every mutating handler follows the same path: authorize, load state, run
// the engine transition, move tokens through the custodian, commit the
// transition atomically, then publish metrics, logs and a WebSocket event.
// Token amounts travel as base-unit integers; USD prices are rendered with
// shopspring/decimal. Never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/options-engine/internal/auth"
	"github.com/atmx/options-engine/internal/custody"
	"github.com/atmx/options-engine/internal/market"
	"github.com/atmx/options-engine/internal/metrics"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/oracle"
	"github.com/atmx/options-engine/internal/store"
)

// PrincipalHeader carries the caller identity.
const PrincipalHeader = "X-Principal"

// Deps are the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Engine    *market.Engine
	Feed      oracle.Feed
	Policy    auth.Policy
	Custodian custody.Custodian

	// Publisher enables PUT /oracle/{feedID}. Nil disables it.
	Publisher oracle.Publisher

	// Hub is optional.
	Hub *WSHub

	// MaxPriceAge bounds oracle staleness. Zero disables the check.
	MaxPriceAge time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Service handles market operations. A mutex serializes transitions within
// one instance. Transitions load from the primary store, and the store's
// version check rejects any commit that raced another instance.
type Service struct {
	store     store.Store
	primary   store.Store
	engine    *market.Engine
	feed      oracle.Feed
	publisher oracle.Publisher
	policy    auth.Policy
	custodian custody.Custodian
	wsHub     *WSHub
	maxAge    time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

// NewService creates a new trade service.
func NewService(d Deps) *Service {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	custodian := d.Custodian
	if custodian == nil {
		custodian = custody.NewLogCustodian(nil)
	}
	return &Service{
		store:     d.Store,
		primary:   store.Primary(d.Store),
		engine:    d.Engine,
		feed:      d.Feed,
		publisher: d.Publisher,
		policy:    d.Policy,
		custodian: custodian,
		wsHub:     d.Hub,
		maxAge:    d.MaxPriceAge,
		now:       func() time.Time { return clock().UTC() },
	}
}

// authorize resolves the caller and checks op. On failure the error
// response is already written.
func (s *Service) authorize(w http.ResponseWriter, r *http.Request, op auth.Op) (string, bool) {
	principal := r.Header.Get(PrincipalHeader)
	if err := s.policy.Authorize(principal, op); err != nil {
		s.fail(w, string(op), err)
		return "", false
	}
	return principal, true
}

// spot reads the oracle price for m at now.
func (s *Service) spot(ctx context.Context, m model.Market, now time.Time) (uint64, error) {
	return oracle.Spot(ctx, s.feed, m.PriceFeed, now, s.maxAge)
}

// transfer moves tokens for a transition. Zero amounts are skipped.
func (s *Service) transfer(ctx context.Context, t custody.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	if err := s.custodian.Transfer(ctx, t); err != nil {
		return &custodyError{err: err}
	}
	return nil
}

// commit stores t and publishes the resulting event. It assigns the event ID.
// moved lists the transfers already executed for t; they are reported when
// the commit fails, since the tokens moved without a recorded transition.
func (s *Service) commit(ctx context.Context, t store.Transition, started time.Time, moved ...custody.Transfer) (model.Event, error) {
	t.Event.ID = uuid.NewString()
	if err := s.store.Commit(ctx, t); err != nil {
		for _, x := range moved {
			if x.Amount == 0 {
				continue
			}
			metrics.UnrecordedTransfers.WithLabelValues(x.MarketID, string(x.Kind)).Inc()
			slog.Error("transfer executed but transition not committed",
				"market", x.MarketID,
				"kind", x.Kind,
				"from", x.From,
				"to", x.To,
				"amount", x.Amount,
				"event", t.Event.ID,
				"err", err,
			)
		}
		return model.Event{}, err
	}

	kind := string(t.Event.Kind)
	metrics.TransitionsTotal.WithLabelValues(t.Market.ID, kind).Inc()
	metrics.TransitionLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	metrics.ObserveMarket(t.Market)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_event", Event: t.Event})
	}
	return t.Event, nil
}

// fail logs and writes an error response for a rejected operation.
func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	status, reason := classify(err)
	metrics.RejectedTotal.WithLabelValues(op, reason).Inc()
	if status >= http.StatusInternalServerError {
		slog.Error("operation failed", "op", op, "err", err)
	} else {
		slog.Debug("operation rejected", "op", op, "reason", reason, "err", err)
	}
	writeError(w, err.Error(), status)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
