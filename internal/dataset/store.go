package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "modernc.org/sqlite"
)

// Engine selects the embedded database used to hold the dataset.
type Engine string

const (
	EngineSQLite Engine = "sqlite"
	EngineDuckDB Engine = "duckdb"
)

const (
	DefaultDataDir = "Query Analysis"
	DefaultPath    = "chartbot.db"
)

var (
	ErrMissingDataFile = errors.New("missing data file")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

// ParseEngine validates an engine name. An empty name selects sqlite.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case "", EngineSQLite:
		return EngineSQLite, nil
	case EngineDuckDB:
		return EngineDuckDB, nil
	default:
		return "", fmt.Errorf("unknown database engine %q (want sqlite or duckdb)", s)
	}
}

// Config configures the dataset store.
type Config struct {
	Logger *slog.Logger
	Engine Engine
	// DataDir holds one <table>.csv file per fixed table.
	DataDir string
	// Path is the database file the dataset is materialized into.
	Path string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	engine, err := ParseEngine(string(c.Engine))
	if err != nil {
		return err
	}
	c.Engine = engine
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	return nil
}

// Store is a materialized copy of the five fixed tables.
type Store struct {
	log    *slog.Logger
	db     *sql.DB
	engine Engine
	path   string
}

// Build recreates the database at cfg.Path, creates the fixed tables and loads each
// of them from its CSV file. A missing data file is fatal.
func Build(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset config: %w", err)
	}

	for _, t := range Tables {
		p := csvPath(cfg.DataDir, t.Name)
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrMissingDataFile, p)
			}
			return nil, fmt.Errorf("failed to stat data file %s: %w", p, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	for _, p := range []string{cfg.Path, cfg.Path + "-journal", cfg.Path + "-wal", cfg.Path + ".wal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove previous database %s: %w", p, err)
		}
	}

	s, err := open(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for _, t := range Tables {
		if _, err := s.db.ExecContext(ctx, t.DDL()); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}

		var n int64
		switch s.engine {
		case EngineDuckDB:
			n, err = s.loadDuckDB(ctx, t, csvPath(cfg.DataDir, t.Name))
		default:
			n, err = s.loadSQLite(ctx, t, csvPath(cfg.DataDir, t.Name))
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load table %s: %w", t.Name, err)
		}
		s.log.Debug("dataset: table loaded", "table", t.Name, "rows", n)
	}

	if err := s.VerifySchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.log.Info("dataset: built", "engine", s.engine, "path", s.path, "duration", time.Since(start))
	return s, nil
}

// Load builds the dataset from the CSV files, closes it and returns the row
// counts. Any database left at cfg.Path is replaced, so a stale file never stands
// in for missing or updated data.
func Load(ctx context.Context, cfg Config) (map[string]int64, error) {
	s, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Counts(ctx)
}

// Open opens a previously built dataset read-only.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset config: %w", err)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", cfg.Path, err)
	}
	s, err := open(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	if s.engine == EngineSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to mark dataset read-only: %w", err)
		}
	}
	if err := s.VerifySchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// open connects to the database, waiting while another process holds a lock on
// it.
func open(ctx context.Context, cfg Config, readOnly bool) (*Store, error) {
	driver, dsn := "sqlite", cfg.Path
	switch cfg.Engine {
	case EngineDuckDB:
		driver = "duckdb"
		if readOnly {
			dsn = cfg.Path + "?access_mode=READ_ONLY"
		}
	default:
		if readOnly {
			dsn = "file:" + cfg.Path + "?mode=ro"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps sqlite writes serialized during the load.
	db.SetMaxOpenConns(1)

	if err := retryWhenBusy(ctx, cfg.Logger, "open", func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Path, err)
	}

	return &Store{
		log:    cfg.Logger,
		db:     db,
		engine: cfg.Engine,
		path:   cfg.Path,
	}, nil
}

func (s *Store) Path() string   { return s.path }
func (s *Store) Engine() Engine { return s.engine }

func (s *Store) Close() error {
	return s.db.Close()
}

// Counts returns the number of rows in each fixed table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

// VerifySchema checks that every fixed table exists with exactly its declared
// columns, in order.
func (s *Store) VerifySchema(ctx context.Context) error {
	for _, t := range Tables {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", t.Name))
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", t.Name, err)
		}
		var got []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan column of %s: %w", t.Name, err)
			}
			got = append(got, name)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", t.Name, err)
		}
		if !slices.Equal(got, t.ColumnNames()) {
			return fmt.Errorf("%w: table %s has columns %v, want %v", ErrSchemaMismatch, t.Name, got, t.ColumnNames())
		}
	}
	return nil
}

func csvPath(dir, table string) string {
	return filepath.Join(dir, table+".csv")
}
