// Package eventlog records per-session message traffic as JSON lines for
// later inspection and replay.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one recorded event.
type Entry struct {
	Timestamp    time.Time `json:"ts"`
	Kind         string    `json:"kind"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Action       string    `json:"action,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Recorder appends entries to one session's event log file.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	closed bool
}

// NewRecorder creates (or appends to) the event log for a session path
// inside dir. The path is flattened into a safe file name, fixed at
// creation: a session renamed later keeps appending to its original file.
func NewRecorder(dir, sessionPath string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	name := sanitize(sessionPath) + ".jsonl"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &Recorder{f: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one entry. Errors are returned for the caller to log;
// recording failures never block message handling.
func (r *Recorder) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("event log is closed")
	}
	return r.enc.Encode(e)
}

// Close flushes and closes the log file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

func sanitize(path string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	s := replacer.Replace(strings.TrimPrefix(path, "/"))
	if s == "" {
		s = "root"
	}
	return s
}
