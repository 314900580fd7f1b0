package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rangeOrder/internal/model"
)

// JsonlStorage appends event records to a journal file, one JSON object per
// line. The file is opened lazily on the first non-empty batch and the handle
// is kept for the life of the sink, so an empty replay leaves no file behind.
type JsonlStorage struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutEventBatch appends a batch of event records as JSON lines.
func (s *JsonlStorage) PutEventBatch(records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	for i := range records {
		if err := s.enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("append event %d: %w", records[i].Seq, err)
		}
	}
	return nil
}

func (s *JsonlStorage) open() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	s.file = file
	s.enc = json.NewEncoder(file)
	return nil
}

// Close releases the journal handle. The sink can be closed without ever
// having written.
func (s *JsonlStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.enc = nil
	return err
}
