package dlq

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWrite_ThenDrainReturnsRecordInOrder(t *testing.T) {
	s := newTestStore(t)
	r1 := Record{OriginalSubject: "chat.say.room-1", Payload: []byte(`{"a":1}`), FirstAttemptAt: time.Now(), LastError: "broker unavailable", AttemptCount: 3}
	r2 := Record{OriginalSubject: "combat.room-1", Payload: []byte(`{"b":2}`), FirstAttemptAt: time.Now(), LastError: "circuit open", AttemptCount: 1}

	if err := s.Write(r1); err != nil {
		t.Fatalf("write r1: %v", err)
	}
	if err := s.Write(r2); err != nil {
		t.Fatalf("write r2: %v", err)
	}

	records, err := s.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].OriginalSubject != r1.OriginalSubject || records[1].OriginalSubject != r2.OriginalSubject {
		t.Fatalf("records out of order: %+v", records)
	}
}

func TestDrain_TruncatesFileAfterRead(t *testing.T) {
	s := newTestStore(t)
	_ = s.Write(Record{OriginalSubject: "chat.global", AttemptCount: 1})

	if _, err := s.Drain(); err != nil {
		t.Fatalf("first drain: %v", err)
	}

	records, err := s.Drain()
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty drain after truncate, got %d", len(records))
	}
}

func TestOpen_RecoversExistingSizeAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s1.Write(Record{OriginalSubject: "chat.system", AttemptCount: 1})
	_ = s1.Write(Record{OriginalSubject: "chat.system", AttemptCount: 1})
	_ = s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	records, err := s2.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 recovered records, got %d", len(records))
	}
}
