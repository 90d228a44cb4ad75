// Package store persists the two append-only pieces of state: the
// content-addressed object store and the nullifier set. Both live in one
// SQLite database in WAL mode.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/timewave-computer/causality-sub016/logger"
)

type Store struct {
	db         *sql.DB
	Objects    *ObjectStore
	Nullifiers *NullifierSet
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, Objects: &ObjectStore{db: db}, Nullifiers: &NullifierSet{db: db}}
	if err := retryOnContention(s.migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Logger().Debug().Str("path", path).Msg("store opened")
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS objects (
		id   BLOB PRIMARY KEY,
		data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nullifiers (
		id BLOB PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS secrets (
		name  TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`)
	return err
}
