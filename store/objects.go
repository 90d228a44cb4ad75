package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
)

// ObjectStore is a content.Store. Objects are never updated or removed.
type ObjectStore struct {
	db *sql.DB
}

var _ content.Store = (*ObjectStore)(nil)

func (s *ObjectStore) Put(b []byte) (content.EntityID, error) {
	id := content.Hash(b)
	if b == nil {
		b = []byte{}
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(`INSERT INTO objects (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, id[:], b)
		return err
	})
	if err != nil {
		return content.EntityID{}, fmt.Errorf("put %s: %w", id.Short(), err)
	}
	return id, nil
}

func (s *ObjectStore) Get(id content.EntityID) ([]byte, bool, error) {
	var b []byte
	err := retryOnContention(func() error {
		return s.db.QueryRow(`SELECT data FROM objects WHERE id = ?`, id[:]).Scan(&b)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", id.Short(), err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, true, nil
}

func (s *ObjectStore) Len() (int, error) {
	var n int
	err := retryOnContention(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&n)
	})
	return n, err
}
