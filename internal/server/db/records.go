package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// PutRecord stores r. Records are content-addressed, so storing the same id
// again is a no-op; created reports whether a row was inserted.
func (s *Store) PutRecord(r *Record) (created bool, err error) {
	res, err := s.db.Exec(
		`INSERT INTO records (id, record_encrypted, task_data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.RecordEncrypted, r.TaskData,
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetRecord retrieves a record by id. It returns nil, nil when absent.
func (s *Store) GetRecord(id string) (*Record, error) {
	r := &Record{}
	err := s.db.QueryRow(
		`SELECT id, record_encrypted, task_data, created_at FROM records WHERE id = ?`, id,
	).Scan(&r.ID, &r.RecordEncrypted, &r.TaskData, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// ListRecords returns records oldest first, without their sealed payload.
// A limit of zero or less returns all records.
func (s *Store) ListRecords(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, task_data, created_at FROM records ORDER BY created_at, rowid LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TaskData, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
