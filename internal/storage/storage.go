package storage

import "rangeOrder/internal/model"

// EventSink is a sink for the engine's event journal.
type EventSink interface {
	PutEventBatch(records []model.EventRecord) error
}

// MultiSink fans a batch out to several sinks; the first failure wins.
type MultiSink []EventSink

func (m MultiSink) PutEventBatch(records []model.EventRecord) error {
	for _, sink := range m {
		if err := sink.PutEventBatch(records); err != nil {
			return err
		}
	}
	return nil
}
