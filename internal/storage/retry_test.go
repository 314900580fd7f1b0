package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"rangeOrder/internal/model"
)

type flakySink struct {
	failures int
	calls    int
	records  []model.EventRecord
}

func (f *flakySink) PutEventBatch(records []model.EventRecord) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("sink down")
	}
	f.records = append(f.records, records...)
	return nil
}

func TestRetrySinkRecovers(t *testing.T) {
	inner := &flakySink{failures: 2}
	sink := NewRetrySink(context.Background(), inner, 3, time.Millisecond)

	records := []model.EventRecord{{Seq: 1, Type: model.EventPlace}}
	if err := sink.PutEventBatch(records); err != nil {
		t.Fatalf("put: %v", err)
	}
	if inner.calls != 3 || len(inner.records) != 1 {
		t.Fatalf("calls=%d records=%d", inner.calls, len(inner.records))
	}
}

func TestRetrySinkGivesUp(t *testing.T) {
	inner := &flakySink{failures: 10}
	sink := NewRetrySink(context.Background(), inner, 2, time.Millisecond)

	if err := sink.PutEventBatch([]model.EventRecord{{Seq: 1}}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if inner.calls != 3 {
		t.Fatalf("calls=%d, want 3", inner.calls)
	}
}

func TestRetrySinkHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakySink{failures: 10}
	sink := NewRetrySink(ctx, inner, 5, time.Minute)

	err := sink.PutEventBatch([]model.EventRecord{{Seq: 1}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls=%d, want 1", inner.calls)
	}
}
