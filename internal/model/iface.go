package model

// RecordSink persists one parsed record. Implementations must be safe for
// concurrent use by multiple listeners.
type RecordSink interface {
	Persist(record *ParsedRecord) error
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(record *ParsedRecord) error

func (f RecordSinkFunc) Persist(record *ParsedRecord) error { return f(record) }

// QueryOpts holds optional filters applied to most queries.
type QueryOpts struct {
	Protocol Protocol // empty = all protocols
}

// LogWriter provides append-oriented write operations for stored entries.
type LogWriter interface {
	InsertLogBatch(entries []*LogEntry) error
}

// LogQuerier provides read-only queries on stored entries.
type LogQuerier interface {
	TotalLogCount(opts QueryOpts) (int64, error)
	CountByProtocol() ([]ProtocolCount, error)
	TopHosts(limit int, opts QueryOpts) ([]DimensionCount, error)
	RecentLogs(limit int, opts QueryOpts) ([]LogEntry, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// LogReader is the unified read contract for read surfaces.
type LogReader interface {
	LogQuerier
	SchemaQuerier
}
