package storage

import "context"

// NextValue atomically increments the named counter and returns the new
// value. A missing counter is created at 1 by the same statement, so
// concurrent callers never observe the same value.
func (s *PostgresStore) NextValue(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequence_counters (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE
		 SET value = sequence_counters.value + 1, updated_at = now()
		 RETURNING value`, name).Scan(&v)
	if err != nil {
		return 0, wrap("next sequence value", err)
	}
	return v, nil
}
