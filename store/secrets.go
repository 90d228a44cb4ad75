package store

import (
	"crypto/rand"
	"fmt"
)

// Secret returns the named secret, creating it from size random bytes on
// first use. Concurrent first uses agree on one value.
func (s *Store) Secret(name string, size int) ([]byte, error) {
	fresh := make([]byte, size)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}
	var v []byte
	err := retryOnContention(func() error {
		if _, err := s.db.Exec(`INSERT INTO secrets (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`, name, fresh); err != nil {
			return err
		}
		return s.db.QueryRow(`SELECT value FROM secrets WHERE name = ?`, name).Scan(&v)
	})
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}
	return v, nil
}
