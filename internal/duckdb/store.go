package duckdb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/OldManSaturn/siem-saltbuild/internal/duckdb/migrate"
	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

// Type aliases keep Store method signatures short.
type (
	LogEntry       = model.LogEntry
	QueryOpts      = model.QueryOpts
	ProtocolCount  = model.ProtocolCount
	DimensionCount = model.DimensionCount
)

// Store manages the DuckDB database connection. It is a model.RecordSink and
// is safe for concurrent use.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and applies pending migrations.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		// Ensure parent directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	qt := model.DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DBPath returns the on-disk path, or "" for an in-memory store.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Persist writes one record synchronously, stamped with the current time.
func (s *Store) Persist(record *model.ParsedRecord) error {
	return s.InsertLogBatch([]*LogEntry{{
		ReceivedAt:   time.Now().UTC(),
		ParsedRecord: *record,
	}})
}
