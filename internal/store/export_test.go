package store

import "context"

// Truncate removes every user so integration tests start from an empty
// table.
func (s *PostgresStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE users`)
	return err
}
