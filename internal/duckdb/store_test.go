package duckdb

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func insertTestEntries(t *testing.T, store *Store, entries []*LogEntry) {
	t.Helper()
	if err := store.InsertLogBatch(entries); err != nil {
		t.Fatalf("InsertLogBatch failed: %v", err)
	}
}

func testEntry(receivedAt time.Time, message string) *LogEntry {
	return &LogEntry{
		ReceivedAt: receivedAt,
		ParsedRecord: model.ParsedRecord{
			Protocol: model.ProtocolUDP,
			Source:   "127.0.0.1:5514",
			Message:  message,
		},
	}
}

func structuredEntry(proto model.Protocol, host, process, message string) *LogEntry {
	return &LogEntry{
		ReceivedAt: time.Now(),
		ParsedRecord: model.ParsedRecord{
			Protocol: proto,
			Source:   "tcp connection 10.0.0.1:40000",
			Message:  message,
			Header: &model.Header{
				Timestamp: "Oct 11 22:14:15",
				Hostname:  host,
				Process:   process,
			},
		},
	}
}

func TestNewStore_OnDiskCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saltbuild.duckdb")
	store, err := NewStore(path, 5*time.Second)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", path, err)
	}
	defer store.Close()

	if store.DBPath() != path {
		t.Errorf("DBPath = %q, want %q", store.DBPath(), path)
	}
	if store.QueryTimeout != 5*time.Second {
		t.Errorf("QueryTimeout = %v, want 5s", store.QueryTimeout)
	}
}

func TestInsertLogBatch_RoundTripsHeader(t *testing.T) {
	store := newTestStore(t)

	insertTestEntries(t, store, []*LogEntry{
		structuredEntry(model.ProtocolTCP, "mymachine", "su", "'su root' failed for lonvick on /dev/pts/8"),
		testEntry(time.Now(), "free-form message"),
	})

	logs, err := store.RecentLogs(10, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("RecentLogs returned %d entries, want 2", len(logs))
	}

	first := logs[0]
	if first.ID == 0 {
		t.Error("expected sequence-assigned ID")
	}
	if first.Protocol != model.ProtocolTCP {
		t.Errorf("Protocol = %q, want TCP", first.Protocol)
	}
	host, ok := first.Hostname()
	if !ok || host != "mymachine" {
		t.Errorf("Hostname = %q, %v; want mymachine, true", host, ok)
	}
	if proc, _ := first.Process(); proc != "su" {
		t.Errorf("Process = %q, want su", proc)
	}
	if ts, _ := first.Timestamp(); ts != "Oct 11 22:14:15" {
		t.Errorf("Timestamp = %q, want Oct 11 22:14:15", ts)
	}

	second := logs[1]
	if second.Structured() {
		t.Errorf("unstructured entry came back with header %+v", second.Header)
	}
	if second.Message != "free-form message" {
		t.Errorf("Message = %q", second.Message)
	}
	if second.ID <= first.ID {
		t.Errorf("IDs not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestPersist(t *testing.T) {
	store := newTestStore(t)

	record := &model.ParsedRecord{Protocol: model.ProtocolFILE, Source: "/var/log/messages", Message: "hello"}
	if err := store.Persist(record); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	logs, err := store.RecentLogs(1, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("RecentLogs returned %d entries, want 1", len(logs))
	}
	if logs[0].ReceivedAt.IsZero() {
		t.Error("Persist did not stamp ReceivedAt")
	}
	if logs[0].Source != "/var/log/messages" {
		t.Errorf("Source = %q", logs[0].Source)
	}
}

func TestTotalLogCount(t *testing.T) {
	store := newTestStore(t)

	count, err := store.TotalLogCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalLogCount: %v", err)
	}
	if count != 0 {
		t.Errorf("empty store TotalLogCount = %d, want 0", count)
	}

	insertTestEntries(t, store, []*LogEntry{
		structuredEntry(model.ProtocolTCP, "a", "sshd", "one"),
		structuredEntry(model.ProtocolTCP, "a", "sshd", "two"),
		testEntry(time.Now(), "three"),
	})

	count, err = store.TotalLogCount(QueryOpts{Protocol: model.ProtocolTCP})
	if err != nil {
		t.Fatalf("TotalLogCount(TCP): %v", err)
	}
	if count != 2 {
		t.Errorf("TotalLogCount(TCP) = %d, want 2", count)
	}
}

func TestCountByProtocol(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		structuredEntry(model.ProtocolTCP, "a", "sshd", "one"),
		testEntry(time.Now(), "two"),
		testEntry(time.Now(), "three"),
	})

	counts, err := store.CountByProtocol()
	if err != nil {
		t.Fatalf("CountByProtocol: %v", err)
	}
	want := []ProtocolCount{
		{Protocol: model.ProtocolTCP, Count: 1},
		{Protocol: model.ProtocolUDP, Count: 2},
	}
	if len(counts) != len(want) {
		t.Fatalf("CountByProtocol = %+v, want %+v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("CountByProtocol[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestTopHosts(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		structuredEntry(model.ProtocolTCP, "web1", "nginx", "a"),
		structuredEntry(model.ProtocolTCP, "web1", "nginx", "b"),
		structuredEntry(model.ProtocolUDP, "db1", "postgres", "c"),
		testEntry(time.Now(), "no header"),
	})

	hosts, err := store.TopHosts(10, QueryOpts{})
	if err != nil {
		t.Fatalf("TopHosts: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("TopHosts = %+v, want 2 hosts", hosts)
	}
	if hosts[0].Value != "web1" || hosts[0].Count != 2 {
		t.Errorf("top host = %+v, want web1:2", hosts[0])
	}

	udpHosts, err := store.TopHosts(10, QueryOpts{Protocol: model.ProtocolUDP})
	if err != nil {
		t.Fatalf("TopHosts(UDP): %v", err)
	}
	if len(udpHosts) != 1 || udpHosts[0].Value != "db1" {
		t.Errorf("TopHosts(UDP) = %+v, want [db1]", udpHosts)
	}
}

func TestRecentLogs_LimitKeepsNewest(t *testing.T) {
	store := newTestStore(t)
	for _, msg := range []string{"m1", "m2", "m3", "m4"} {
		insertTestEntries(t, store, []*LogEntry{testEntry(time.Now(), msg)})
	}

	logs, err := store.RecentLogs(2, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "m3" || logs[1].Message != "m4" {
		t.Fatalf("RecentLogs(2) = %+v, want m3, m4", logs)
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		testEntry(time.Now().Add(-2*time.Hour), "old"),
		testEntry(time.Now(), "new"),
	})

	deleted, err := store.DeleteBefore(time.Now().Add(-time.Hour), QueryOpts{})
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteBefore deleted %d rows, want 1", deleted)
	}
}

func TestDeleteBefore_ProtocolScoped(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().Add(-2 * time.Hour)
	tcpOld := testEntry(old, "old tcp")
	tcpOld.Protocol = model.ProtocolTCP
	insertTestEntries(t, store, []*LogEntry{tcpOld, testEntry(old, "old udp")})

	deleted, err := store.DeleteBefore(time.Now().Add(-time.Hour), QueryOpts{Protocol: model.ProtocolTCP})
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteBefore deleted %d rows, want 1", deleted)
	}
	logs, err := store.RecentLogs(10, QueryOpts{})
	if err != nil {
		t.Fatalf("RecentLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Protocol != model.ProtocolUDP {
		t.Fatalf("surviving entries = %+v, want only the UDP entry", logs)
	}
}

func TestExecuteQuery_SelectAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{testEntry(time.Now(), "test log")})

	results, err := store.ExecuteQuery("SELECT COUNT(*) as cnt FROM logs")
	if err != nil {
		t.Fatalf("ExecuteQuery SELECT: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_WithAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{testEntry(time.Now(), "test log")})

	results, err := store.ExecuteQuery("WITH c AS (SELECT COUNT(*) AS cnt FROM logs) SELECT cnt FROM c")
	if err != nil {
		t.Fatalf("ExecuteQuery WITH: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery WITH returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_CommentsStripped(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.ExecuteQuery("SELECT 1 /* DROP TABLE logs */"); err != nil {
		t.Errorf("block comment should be ignored: %v", err)
	}
	if _, err := store.ExecuteQuery("/* x */ DELETE FROM logs"); err == nil {
		t.Error("DELETE hidden behind a leading comment should be rejected")
	}
}

func TestExecuteQuery_DMLRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []string{
		"INSERT INTO logs (protocol, source, message) VALUES ('TCP', 'x', 'hack')",
		"UPDATE logs SET message = 'hacked'",
		"DELETE FROM logs",
		"DROP TABLE logs",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE logs ADD COLUMN evil varchar",
		"TRUNCATE logs",
	}

	for _, sql := range rejected {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery(%q) should have been rejected", sql)
		}
	}
}

func TestExecuteQuery_DuckDBKeywordsRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(logs, '/tmp/dump.csv') FROM logs", "COPY"},
		{"SELECT ATTACH FROM logs", "ATTACH"},
		{"SELECT LOAD FROM logs", "LOAD"},
		{"SELECT EXPORT FROM logs", "EXPORT"},
		{"SELECT INSTALL FROM logs", "INSTALL"},
		{"SELECT PRAGMA FROM logs", "PRAGMA"},
		{"SELECT SET FROM logs", "SET"},
	}

	for _, tt := range rejected {
		_, err := store.ExecuteQuery(tt.sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject %s keyword", tt.keyword)
		}
		if err != nil && !strings.Contains(err.Error(), tt.keyword) {
			t.Errorf("ExecuteQuery error %q should mention keyword %s", err.Error(), tt.keyword)
		}
	}

	for _, sql := range []string{
		"SELECT * FROM logs; DROP TABLE logs",
		"SELECT * FROM logs; COPY logs TO '/tmp/dump.csv'",
	} {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject query with semicolons: %s", sql)
		}
		if err != nil && !strings.Contains(err.Error(), "semicolons") {
			t.Errorf("ExecuteQuery error %q should mention semicolons", err.Error())
		}
	}
}

func TestTableRowCounts(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}

	for _, table := range []string{"logs", "schema_migrations"} {
		if _, ok := counts[table]; !ok {
			t.Errorf("TableRowCounts missing table %q", table)
		}
	}
	if counts["schema_migrations"] != 4 {
		t.Errorf("schema_migrations rows = %d, want 4", counts["schema_migrations"])
	}
}
