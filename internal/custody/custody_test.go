package custody

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/atmx/options-engine/internal/model"
)

func TestLogCustodian(t *testing.T) {
	var buf bytes.Buffer
	c := NewLogCustodian(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := c.Transfer(context.Background(), Transfer{
		MarketID: "sol",
		Kind:     model.EventDeposit,
		From:     "alice",
		To:       VaultAccount("sol"),
		Amount:   1_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"token transfer"`, `"to":"vault:sol"`, `"amount":1000`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := &Recorder{}

	if err := r.Transfer(ctx, Transfer{MarketID: "sol", Amount: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	boom := errors.New("rpc down")
	r.FailWith(boom)
	if err := r.Transfer(ctx, Transfer{MarketID: "sol", Amount: 2}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	r.FailWith(nil)
	_ = r.Transfer(ctx, Transfer{MarketID: "sol", Amount: 3})

	got := r.Transfers()
	if len(got) != 2 || got[0].Amount != 1 || got[1].Amount != 3 {
		t.Errorf("expected transfers 1 and 3, got %+v", got)
	}
}
