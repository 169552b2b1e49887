package duckdb

import (
	"testing"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

func protocolEntry(proto model.Protocol, age time.Duration, message string) *LogEntry {
	e := testEntry(time.Now().Add(-age), message)
	e.Protocol = proto
	return e
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	cleaner.Stop()
	cleaner.Stop()
}

func TestRetentionCleaner_DisabledReturnsNil(t *testing.T) {
	store := newTestStore(t)
	tests := []RetentionConfig{
		{RetentionDays: 0},
		{RetentionDays: 0, ProtocolDays: map[model.Protocol]int{model.ProtocolUDP: 0}},
		{RetentionDays: 7, ProtocolDays: map[model.Protocol]int{
			model.ProtocolTCP: 0, model.ProtocolUDP: 0, model.ProtocolFILE: 0,
		}},
	}
	for _, cfg := range tests {
		if cleaner := NewRetentionCleaner(store, cfg); cleaner != nil {
			cleaner.Stop()
			t.Fatalf("NewRetentionCleaner(%+v) = non-nil, want nil", cfg)
		}
	}
}

func TestRetentionCleaner_StartupSweepDeletesExpired(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		testEntry(time.Now().Add(-40*24*time.Hour), "old entry"),
		testEntry(time.Now(), "fresh entry"),
	})

	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 30})
	defer cleaner.Stop()

	logs, err := store.RecentLogs(10, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "fresh entry" {
		t.Fatalf("unexpected surviving entries: %+v", logs)
	}

	sweep := cleaner.LastSweep()
	if sweep.Err != nil {
		t.Fatalf("startup sweep error: %v", sweep.Err)
	}
	if sweep.Deleted[model.ProtocolUDP] != 1 || sweep.Remaining[model.ProtocolUDP] != 1 {
		t.Fatalf("startup sweep = %+v, want 1 UDP deleted and 1 remaining", sweep)
	}
}

func TestRetentionCleaner_ProtocolOverrides(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		protocolEntry(model.ProtocolTCP, 10*24*time.Hour, "tcp 10d"),
		protocolEntry(model.ProtocolUDP, 10*24*time.Hour, "udp 10d"),
		protocolEntry(model.ProtocolUDP, 3*24*time.Hour, "udp 3d"),
		protocolEntry(model.ProtocolFILE, 400*24*time.Hour, "file 400d"),
	})

	cleaner := NewRetentionCleaner(store, RetentionConfig{
		RetentionDays: 30,
		ProtocolDays: map[model.Protocol]int{
			model.ProtocolUDP:  7,
			model.ProtocolFILE: 0,
		},
	})
	defer cleaner.Stop()

	if got := cleaner.Days(model.ProtocolFILE); got != 0 {
		t.Errorf("Days(FILE) = %d, want 0 (kept forever)", got)
	}
	if got := cleaner.Days(model.ProtocolTCP); got != 30 {
		t.Errorf("Days(TCP) = %d, want 30", got)
	}

	sweep := cleaner.LastSweep()
	if sweep.TotalDeleted() != 1 {
		t.Fatalf("TotalDeleted = %d, want 1 (%+v)", sweep.TotalDeleted(), sweep)
	}
	if _, swept := sweep.Deleted[model.ProtocolFILE]; swept {
		t.Errorf("FILE records were swept although kept forever")
	}

	logs, err := store.RecentLogs(10, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	var got []string
	for _, l := range logs {
		got = append(got, l.Message)
	}
	want := []string{"tcp 10d", "udp 3d", "file 400d"}
	if len(got) != len(want) {
		t.Fatalf("surviving = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("surviving = %q, want %q", got, want)
		}
	}
}

func TestRetentionCleaner_PeriodicSweep(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{
		RetentionDays: 1,
		Interval:      20 * time.Millisecond,
	})
	defer cleaner.Stop()

	startup := cleaner.LastSweep().At

	// Expires after the startup sweep, so only the ticker can remove it.
	insertTestEntries(t, store, []*LogEntry{testEntry(time.Now().Add(-48*time.Hour), "late arrival")})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.TotalLogCount(QueryOpts{})
		if err != nil {
			t.Fatalf("TotalLogCount: %v", err)
		}
		if count == 0 {
			if !cleaner.LastSweep().At.After(startup) {
				t.Fatal("entry removed but no periodic sweep recorded")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("periodic sweep did not remove the expired entry")
}

func TestRetentionCleaner_SweepAfterStop(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1, Interval: time.Hour})
	cleaner.Stop()

	insertTestEntries(t, store, []*LogEntry{testEntry(time.Now().Add(-48*time.Hour), "expired")})
	sweep := cleaner.Sweep()
	if sweep.Err != nil {
		t.Fatalf("Sweep: %v", sweep.Err)
	}
	if sweep.TotalDeleted() != 1 {
		t.Fatalf("manual Sweep deleted %d, want 1", sweep.TotalDeleted())
	}
}
