package auth

import (
	"errors"
	"testing"

	"github.com/atmx/options-engine/internal/model"
)

func TestAdminPolicy(t *testing.T) {
	p := NewAdminPolicy([]string{"admin", ""})

	tests := []struct {
		principal string
		op        Op
		allowed   bool
	}{
		{"admin", OpCreateMarket, true},
		{"admin", OpDeposit, true},
		{"alice", OpDeposit, true},
		{"alice", OpSettle, true},
		{"alice", OpCloseMarket, false},
		{"alice", OpPublishPrice, false},
		{"", OpDeposit, false},
		{"", OpCollectFees, false},
	}
	for _, tt := range tests {
		err := p.Authorize(tt.principal, tt.op)
		if tt.allowed && err != nil {
			t.Errorf("%q/%s: expected allowed, got %v", tt.principal, tt.op, err)
		}
		if !tt.allowed && !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("%q/%s: expected ErrUnauthorized, got %v", tt.principal, tt.op, err)
		}
	}
}
