package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var ErrRecordNotFound = errors.New("record not found")

// AddVerification appends an audit entry and fills in v.ID. It returns
// ErrRecordNotFound when v.RecordID is not stored.
func (s *Store) AddVerification(v *Verification) error {
	res, err := s.db.Exec(
		`INSERT INTO verifications (record_id, valid, reason) VALUES (?, ?, ?)`,
		v.RecordID, v.Valid, v.Reason,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return ErrRecordNotFound
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("verification id: %w", err)
	}
	v.ID = id
	return nil
}

// ListVerifications returns the audit entries of a record, oldest first.
func (s *Store) ListVerifications(recordID string) ([]Verification, error) {
	rows, err := s.db.Query(
		`SELECT id, record_id, valid, reason, verified_at FROM verifications
		 WHERE record_id = ? ORDER BY id`, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.ID, &v.RecordID, &v.Valid, &v.Reason, &v.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
