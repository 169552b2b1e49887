package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// maxQueryRows caps the rows returned by ExecuteQuery.
const maxQueryRows = 1000

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// protocolFilter returns a WHERE clause and args when opts.Protocol is set.
func protocolFilter(opts QueryOpts) (clause string, args []interface{}) {
	if opts.Protocol != "" {
		return "WHERE protocol = ?", []interface{}{string(opts.Protocol)}
	}
	return "", nil
}

// protocolAnd returns an "AND protocol = ?" fragment for queries that already
// have a WHERE clause.
func protocolAnd(opts QueryOpts) (clause string, args []interface{}) {
	if opts.Protocol != "" {
		return " AND protocol = ?", []interface{}{string(opts.Protocol)}
	}
	return "", nil
}

// TotalLogCount returns the total number of stored entries.
func (s *Store) TotalLogCount(opts QueryOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := protocolFilter(opts)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM logs %s`, where)

	var count int64
	err := s.db.QueryRowContext(ctx, query, wArgs...).Scan(&count)
	return count, err
}

// CountByProtocol returns entry counts grouped by protocol.
func (s *Store) CountByProtocol() ([]ProtocolCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT protocol, COUNT(*) AS count
		FROM logs
		GROUP BY protocol
		ORDER BY protocol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProtocolCount
	for rows.Next() {
		var (
			proto string
			item  ProtocolCount
		)
		if err := rows.Scan(&proto, &item.Count); err != nil {
			log.Printf("duckdb scan error (CountByProtocol): %v", err)
			continue
		}
		item.Protocol = model.Protocol(proto)
		results = append(results, item)
	}
	return results, rows.Err()
}

// TopHosts returns header hostnames by descending entry count. Unstructured
// entries have no hostname and are not counted.
func (s *Store) TopHosts(limit int, opts QueryOpts) ([]DimensionCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	andProto, aArgs := protocolAnd(opts)
	query := fmt.Sprintf(`
		SELECT hostname, COUNT(*) AS count
		FROM logs
		WHERE hostname IS NOT NULL%s
		GROUP BY hostname
		ORDER BY count DESC, hostname ASC
		LIMIT ?`, andProto)

	args := append(aArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DimensionCount
	for rows.Next() {
		var item DimensionCount
		if err := rows.Scan(&item.Value, &item.Count); err != nil {
			log.Printf("duckdb scan error (TopHosts): %v", err)
			continue
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// RecentLogs returns the newest limit entries in insertion order.
func (s *Store) RecentLogs(limit int, opts QueryOpts) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := protocolFilter(opts)
	inner := fmt.Sprintf(`
		SELECT id, received_at, protocol, source, message, parsed_timestamp, hostname, process
		FROM logs %s
		ORDER BY id DESC
		LIMIT ?`, where)
	// Wrap so final results come back in chronological (ASC) order.
	query := "SELECT * FROM (" + inner + ") ORDER BY id ASC"

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LogEntry
	for rows.Next() {
		var e LogEntry
		var proto string
		var timestamp, hostname, process sql.NullString
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &proto, &e.Source, &e.Message, &timestamp, &hostname, &process); err != nil {
			log.Printf("duckdb scan error (RecentLogs): %v", err)
			continue
		}
		e.Protocol = model.Protocol(proto)
		if timestamp.Valid && hostname.Valid && process.Valid {
			e.Header = &model.Header{
				Timestamp: timestamp.String,
				Hostname:  hostname.String,
				Process:   process.String,
			}
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// DeleteBefore removes entries received before cutoff and returns the number
// of rows deleted. A protocol in opts limits the delete to that transport.
func (s *Store) DeleteBefore(cutoff time.Time, opts QueryOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	andProto, aArgs := protocolAnd(opts)
	args := append([]interface{}{cutoff.UTC()}, aArgs...)
	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE received_at < ?`+andProto, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the logs table.
func (s *Store) GetSchemaDescription() string {
	return `Table 'logs': id (BIGINT), received_at (TIMESTAMP), ` +
		`protocol (VARCHAR: TCP/UDP/FILE), source (VARCHAR), message (VARCHAR), ` +
		`parsed_timestamp (VARCHAR, NULL when unstructured), hostname (VARCHAR, NULL when unstructured), ` +
		`process (VARCHAR, NULL when unstructured).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"logs", "schema_migrations"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
