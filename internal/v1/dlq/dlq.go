// Package dlq implements the Dead-Letter Queue (C5): an append-only record
// of broker publishes that exhausted retry or were rejected by an open
// circuit, kept until Drain is called (the Cleaner's breaker-gated replay
// sweep calls it on every pass while the breaker is closed).
//
// No disk-backed queue library (BoltDB/BadgerDB/SQLite-as-queue) is wired
// anywhere in this module; an append-only JSON-lines file under the
// standard library is the right-sized implementation here and is called
// out in DESIGN.md as a stdlib exception.
package dlq

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/metrics"
)

// Record is one dead-lettered publish attempt.
type Record struct {
	OriginalSubject string    `json:"original_subject"`
	Payload         []byte    `json:"payload"`
	FirstAttemptAt  time.Time `json:"first_attempt_at"`
	LastError       string    `json:"last_error"`
	AttemptCount    int       `json:"attempt_count"`
}

// Store is a file-backed, append-only dead-letter queue. Writes are
// serialized by a mutex; the file is opened once in append mode for the
// lifetime of the Store.
type Store struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int
}

// Open creates or appends to the dead-letter file at path.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, f: f}
	s.size, _ = s.countLines()
	metrics.DLQSize.Set(float64(s.size))
	return s, nil
}

func (s *Store) countLines() (int, error) {
	if _, err := s.f.Seek(0, 0); err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	if _, err := s.f.Seek(0, 2); err != nil {
		return 0, err
	}
	return n, sc.Err()
}

// Write appends a dead-letter record as one JSON line.
func (s *Store) Write(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.size++
	metrics.DLQSize.Set(float64(s.size))
	metrics.DLQWrites.WithLabelValues(r.OriginalSubject).Inc()
	return nil
}

// Drain reads every record currently on disk and truncates the file,
// returning what was read. The Cleaner (C16) calls it to replay records.
func (s *Store) Drain() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(0, 0); err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Record
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue // corrupt line, skip rather than abort the whole drain
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, err
	}

	if err := s.f.Truncate(0); err != nil {
		return out, err
	}
	if _, err := s.f.Seek(0, 0); err != nil {
		return out, err
	}
	s.size = 0
	metrics.DLQSize.Set(0)
	return out, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
