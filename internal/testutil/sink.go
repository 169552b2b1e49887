package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

// ErrSinkUnavailable is returned by RecordingSink while failures are queued.
var ErrSinkUnavailable = errors.New("testutil: sink unavailable")

// RecordingSink is an in-memory model.RecordSink safe for concurrent use.
type RecordingSink struct {
	mu       sync.Mutex
	records  []model.ParsedRecord
	calls    int
	failNext int
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// FailNext makes the next n Persist calls fail without recording.
func (s *RecordingSink) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *RecordingSink) Persist(record *model.ParsedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failNext > 0 {
		s.failNext--
		return ErrSinkUnavailable
	}
	s.records = append(s.records, *record)
	return nil
}

// Records returns a copy of everything persisted so far.
func (s *RecordingSink) Records() []model.ParsedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ParsedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Calls returns the number of Persist calls, failed ones included.
func (s *RecordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// WaitForRecords polls until at least n records are stored or timeout expires.
func (s *RecordingSink) WaitForRecords(t testing.TB, n int, timeout time.Duration) []model.ParsedRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		records := s.Records()
		if len(records) >= n {
			return records
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d records, got %d: %+v", n, len(records), records)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForCalls polls until at least n Persist calls were made or timeout expires.
func (s *RecordingSink) WaitForCalls(t testing.TB, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.Calls() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sink calls, got %d", n, s.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
