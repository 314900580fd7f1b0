package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"rangeOrder/internal/model"
)

func writeEvents(t *testing.T, path string, records []model.EventRecord) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create events: %v", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			t.Fatalf("encode event: %v", err)
		}
	}
}

func event(t *testing.T, seq uint64, eventType string, payload any) model.EventRecord {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return model.EventRecord{Seq: seq, Type: eventType, Payload: raw, EmittedAt: "2026-01-01T00:00:00Z"}
}

func TestReconstructCleanJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, []model.EventRecord{
		event(t, 1, model.EventPlace, model.PlaceEvent{Owner: opsOwner, OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "1000"}),
		event(t, 2, model.EventPlace, model.PlaceEvent{Owner: opsTrader, OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "500"}),
		event(t, 3, model.EventFill, model.FillEvent{OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "1500", Amount0: "0", Amount1: "1500"}),
		event(t, 4, model.EventWithdraw, model.WithdrawEvent{Owner: opsOwner, OrderID: 1, Amount0: "0", Amount1: "1000", Recipient: opsOwner}),
	})

	rec := NewReconstructor(zap.NewNop())
	if err := rec.Run(path); err != nil {
		t.Fatalf("run: %v", err)
	}
	if issues := rec.Issues(); len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}

	orders := rec.Orders()
	if len(orders) != 1 {
		t.Fatalf("got %d live orders, want 1", len(orders))
	}
	o := orders[0]
	if !o.Filled || o.LiquidityTotal != "500" || o.TotalFee1 != "500" {
		t.Fatalf("order state mismatch: %+v", o)
	}
}

func TestReconstructFlagsInconsistencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, []model.EventRecord{
		event(t, 1, model.EventPlace, model.PlaceEvent{Owner: opsOwner, OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "1000"}),
		// Withdraw without a fill, then a cancel on an order never placed.
		event(t, 2, model.EventWithdraw, model.WithdrawEvent{Owner: opsOwner, OrderID: 1, Amount0: "0", Amount1: "10", Recipient: opsOwner}),
		event(t, 3, model.EventCancel, model.CancelEvent{Owner: opsOwner, OrderID: 7, TickLower: 60, Liquidity: "5", Recipient: opsOwner}),
	})

	rec := NewReconstructor(zap.NewNop())
	if err := rec.Run(path); err != nil {
		t.Fatalf("run: %v", err)
	}
	issues := rec.Issues()
	if len(issues) < 2 {
		t.Fatalf("got %d issues, want at least 2: %+v", len(issues), issues)
	}
	found := map[string]bool{}
	for _, issue := range issues {
		found[issue.Problem] = true
	}
	if !found["withdraw before fill"] || !found["cancel on unknown order"] {
		t.Fatalf("expected specific problems, got %+v", issues)
	}
}

func TestReconstructRejectsNonMonotonicSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, []model.EventRecord{
		event(t, 2, model.EventPlace, model.PlaceEvent{Owner: opsOwner, OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "1000"}),
		event(t, 1, model.EventPlace, model.PlaceEvent{Owner: opsOwner, OrderID: 1, TickLower: 120, ZeroForOne: true, Liquidity: "500"}),
	})

	rec := NewReconstructor(zap.NewNop())
	if err := rec.Run(path); err != nil {
		t.Fatalf("run: %v", err)
	}
	issues := rec.Issues()
	if len(issues) != 1 || issues[0].Problem != "sequence not increasing" {
		t.Fatalf("expected sequence issue, got %+v", issues)
	}
}
