// Package custody moves tokens between holders and market vaults. The service
// calls Transfer before committing a transition; a failed transfer aborts it.
package custody

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atmx/options-engine/internal/model"
)

// Transfer is one token movement caused by a market transition.
type Transfer struct {
	MarketID string          `json:"market_id"`
	Kind     model.EventKind `json:"kind"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   uint64          `json:"amount"`
}

// Custodian executes transfers.
type Custodian interface {
	Transfer(ctx context.Context, t Transfer) error
}

// VaultAccount names a market's pooled vault in transfers.
func VaultAccount(marketID string) string { return "vault:" + marketID }

// FeeAccount names a market's protocol fee account.
func FeeAccount(marketID string) string { return "fees:" + marketID }

// LogCustodian records transfers in the structured log and always succeeds.
type LogCustodian struct {
	logger *slog.Logger
}

// NewLogCustodian creates a custodian logging to logger (slog.Default when nil).
func NewLogCustodian(logger *slog.Logger) *LogCustodian {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCustodian{logger: logger}
}

func (c *LogCustodian) Transfer(ctx context.Context, t Transfer) error {
	c.logger.InfoContext(ctx, "token transfer",
		"market", t.MarketID,
		"kind", t.Kind,
		"from", t.From,
		"to", t.To,
		"amount", t.Amount,
	)
	return nil
}

// Recorder keeps every transfer in memory and can be told to fail. Used in
// tests and local runs.
type Recorder struct {
	mu        sync.Mutex
	transfers []Transfer
	failWith  error
}

func (r *Recorder) Transfer(_ context.Context, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.transfers = append(r.transfers, t)
	return nil
}

// FailWith makes every following transfer return err. nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Transfers returns a copy of the recorded transfers.
func (r *Recorder) Transfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transfer(nil), r.transfers...)
}
