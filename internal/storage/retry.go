package storage

import (
	"context"
	"time"

	"rangeOrder/internal/model"
)

// RetrySink wraps an EventSink with exponential backoff. Journal writes to a
// remote sink can fail transiently; the engine state they describe is already
// committed, so a write is worth retrying before being reported upstream.
type RetrySink struct {
	Sink       EventSink
	MaxRetries int
	BaseDelay  time.Duration

	ctx context.Context
}

// NewRetrySink builds a RetrySink; ctx bounds the backoff waits.
func NewRetrySink(ctx context.Context, sink EventSink, maxRetries int, baseDelay time.Duration) *RetrySink {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RetrySink{Sink: sink, MaxRetries: maxRetries, BaseDelay: baseDelay, ctx: ctx}
}

func (r *RetrySink) PutEventBatch(records []model.EventRecord) error {
	maxRetries := r.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := r.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := r.Sink.PutEventBatch(records)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return r.ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
