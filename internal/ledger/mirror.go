package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audit-engine/go-core/pkg/types"
)

// Mirror appends every ledger event to a rotated JSONL file. It is a
// secondary record for operators and log shippers; the store remains the
// source of truth.
type Mirror struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewMirror creates a mirror writing to filename with rotation.
func NewMirror(filename string, maxSizeMB, maxAgeDays, maxBackups int) (*Mirror, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		Compress:   true,
	}

	return &Mirror{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}, nil
}

// Write appends one event as a JSON line.
func (m *Mirror) Write(event *types.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoder.Encode(event)
}

// Close closes the underlying file.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger.Close()
}
