package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// DefaultFilename is the name of the sqlite database file.
	DefaultFilename = "accrue.sqlite"

	// InmemPath is the path to use for an in-memory database.
	InmemPath = ":memory:"

	migrationsTableName = "migrations"
)

// SqlStore is a wrapper around the sqlite database. The mutex serializes
// write transactions: sqlite allows a single writer at a time, and busy
// errors surface as failures rather than queueing when multiple connections
// write concurrently.
type SqlStore struct {
	Mu   sync.RWMutex
	DB   *sqlx.DB
	log  *zap.Logger
	path string
}

// NewSqlStore opens (creating if necessary) the sqlite database at path.
// Use InmemPath for an in-memory database.
func NewSqlStore(path string, log *zap.Logger) (*SqlStore, error) {
	s := &SqlStore{
		log:  log,
		path: path,
	}

	if err := s.openDB(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SqlStore) openDB() error {
	db, err := sqlx.Open("sqlite3", s.path)
	if err != nil {
		return err
	}
	s.log.Info("Resources opened", zap.String("path", s.path))

	// If the database is in-memory, the connection must never be closed or
	// the database contents are lost. Limiting open connections to 1 keeps
	// the pool from opening a second, empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	// Foreign key constraints are off unless requested.
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return err
	}

	s.DB = db
	return nil
}

// Close closes the connection to the sqlite database.
func (s *SqlStore) Close() error {
	return s.DB.Close()
}

// Flush deletes all records for all tables except the migrations table.
// Used for testing.
func (s *SqlStore) Flush(ctx context.Context) {
	tables, err := s.tableNames()
	if err != nil {
		s.log.Fatal("unable to flush sqlite", zap.Error(err))
	}

	for _, t := range tables {
		if t == migrationsTableName {
			continue
		}

		stmt := fmt.Sprintf("DELETE FROM %s", t)
		err := s.execTrans(ctx, stmt)
		if err != nil {
			s.log.Fatal("unable to flush sqlite", zap.Error(err))
		}
	}
	s.log.Debug("sqlite data flushed successfully")
}

// userVersion returns the current value of the user_version pragma, which the
// migrator uses to track applied migrations.
func (s *SqlStore) userVersion() (int, error) {
	stmt := `PRAGMA user_version`
	res, err := s.queryToStrings(stmt)
	if err != nil {
		return 0, err
	}

	val, err := strconv.Atoi(res[0])
	if err != nil {
		return 0, err
	}

	return val, nil
}

// execTrans runs the statement inside a write transaction with the store
// mutex held.
func (s *SqlStore) execTrans(ctx context.Context, stmt string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	return nil
}

// queryToStrings is a test/support utility for running a query expected to
// return a single column of strings.
func (s *SqlStore) queryToStrings(stmt string) ([]string, error) {
	var output []string

	rows, err := s.DB.Query(stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var i string
		err = rows.Scan(&i)
		if err != nil {
			return nil, err
		}

		output = append(output, i)
	}

	return output, nil
}

// tableNames returns the names of all tables in the database, in the order
// they were created.
func (s *SqlStore) tableNames() ([]string, error) {
	stmt := `SELECT name FROM sqlite_master WHERE type='table'`
	return s.queryToStrings(stmt)
}
