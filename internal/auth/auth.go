// Package auth decides which principals may perform which operations.
package auth

import (
	"fmt"

	"github.com/atmx/options-engine/internal/model"
)

// Op names an operation subject to authorization.
type Op string

// Admin operations.
const (
	OpCreateMarket     Op = "create_market"
	OpUpdateVolatility Op = "update_volatility"
	OpCloseMarket      Op = "close_market"
	OpCollectFees      Op = "collect_fees"
	OpPublishPrice     Op = "publish_price"
)

// Holder operations. The principal acts on its own shares and positions.
const (
	OpDeposit  Op = "deposit"
	OpWithdraw Op = "withdraw"
	OpBuy      Op = "buy"
	OpExercise Op = "exercise"
	OpSettle   Op = "settle"
)

// Admin reports whether op requires an administrator.
func (o Op) Admin() bool {
	switch o {
	case OpCreateMarket, OpUpdateVolatility, OpCloseMarket, OpCollectFees, OpPublishPrice:
		return true
	}
	return false
}

// Policy authorizes a principal for an operation. Denials wrap
// model.ErrUnauthorized.
type Policy interface {
	Authorize(principal string, op Op) error
}

// AdminPolicy grants admin operations to a fixed set of principals and
// holder operations to any identified principal.
type AdminPolicy struct {
	admins map[string]struct{}
}

// NewAdminPolicy creates a policy for the given admin principals.
func NewAdminPolicy(admins []string) *AdminPolicy {
	p := &AdminPolicy{admins: make(map[string]struct{}, len(admins))}
	for _, a := range admins {
		if a != "" {
			p.admins[a] = struct{}{}
		}
	}
	return p
}

func (p *AdminPolicy) Authorize(principal string, op Op) error {
	if principal == "" {
		return fmt.Errorf("%w: missing principal for %s", model.ErrUnauthorized, op)
	}
	if !op.Admin() {
		return nil
	}
	if _, ok := p.admins[principal]; !ok {
		return fmt.Errorf("%w: %s may not %s", model.ErrUnauthorized, principal, op)
	}
	return nil
}
