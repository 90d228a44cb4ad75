package store

import (
	"database/sql"
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/resource"
)

// NullifierSet is a resource.NullifierSet whose check-and-insert is a single
// statement, so concurrent nullifications of one id admit exactly one winner.
type NullifierSet struct {
	db *sql.DB
}

var _ resource.NullifierSet = (*NullifierSet)(nil)

func (s *NullifierSet) Nullify(id content.ResourceID) error {
	var inserted int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(`INSERT INTO nullifiers (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id[:])
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("nullify %s: %w", content.EntityID(id).Short(), err)
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %s", resource.ErrAlreadyNullified, id)
	}
	return nil
}

func (s *NullifierSet) Contains(id content.ResourceID) (bool, error) {
	var n int
	err := retryOnContention(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM nullifiers WHERE id = ?`, id[:]).Scan(&n)
	})
	return n > 0, err
}

// List returns the nullified ids in byte order.
func (s *NullifierSet) List() ([]content.ResourceID, error) {
	var out []content.ResourceID
	err := retryOnContention(func() error {
		out = out[:0]
		rows, err := s.db.Query(`SELECT id FROM nullifiers ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b []byte
			if err := rows.Scan(&b); err != nil {
				return err
			}
			if len(b) != content.Size {
				return fmt.Errorf("nullifier of %d bytes", len(b))
			}
			var id content.ResourceID
			copy(id[:], b)
			out = append(out, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *NullifierSet) Len() (int, error) {
	var n int
	err := retryOnContention(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM nullifiers`).Scan(&n)
	})
	return n, err
}

// Root commits to the current set.
func (s *NullifierSet) Root() (content.EntityID, error) {
	ids, err := s.List()
	if err != nil {
		return content.EntityID{}, err
	}
	return resource.Root(ids), nil
}
