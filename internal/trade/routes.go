package trade

import "github.com/go-chi/chi/v5"

// Routes mounts the API handlers on r. The caller mounts it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	// Market management.
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Route("/markets/{marketID}", func(r chi.Router) {
		r.Get("/", s.GetMarket)
		r.Get("/events", s.ListEvents)
		r.Put("/volatility", s.UpdateVolatility)
		r.Post("/close", s.CloseMarket)
		r.Post("/fees/withdraw", s.CollectFees)

		// Liquidity.
		r.Post("/deposit", s.Deposit)
		r.Post("/withdraw", s.Withdraw)
		r.Get("/shares/{holder}", s.GetShares)

		// Options.
		r.Get("/quote", s.Quote)
		r.Post("/buy", s.Buy)
		r.Post("/exercise", s.Exercise)
		r.Post("/settle", s.Settle)
	})

	// Holder queries.
	r.Get("/accounts/{holder}/positions", s.GetPositions)

	// Static price feed.
	r.Put("/oracle/{feedID}", s.PublishPrice)
}
