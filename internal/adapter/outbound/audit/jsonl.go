package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aeshef/finam-ai-chat/internal/usecase"
)

const defaultRingSize = 256

// JSONLSink appends audit records to a JSON Lines file and keeps a bounded
// in-memory ring of recent records for inspection over the tool surface.
// All methods are safe for concurrent use.
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	ring   []usecase.AuditRecord
	next   int
	filled bool
	logger *slog.Logger
}

// NewJSONLSink opens (or creates) the log file at path in append mode. A ring
// size of zero or less falls back to the default.
func NewJSONLSink(path string, ringSize int, logger *slog.Logger) (*JSONLSink, error) {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &JSONLSink{
		file:   f,
		enc:    json.NewEncoder(f),
		ring:   make([]usecase.AuditRecord, ringSize),
		logger: logger.With("component", "audit"),
	}, nil
}

// Record writes the record to the file and the ring. Write errors are logged
// rather than returned: auditing must never fail a trading operation.
func (s *JSONLSink) Record(rec usecase.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = rec
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.filled = true
	}

	if err := s.enc.Encode(rec); err != nil {
		s.logger.Error("failed to append audit record", slog.Any("error", err))
	}
}

// Recent returns up to n records, newest first.
func (s *JSONLSink) Recent(n int) []usecase.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.filled {
		size = len(s.ring)
	}
	if n > size {
		n = size
	}
	out := make([]usecase.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
