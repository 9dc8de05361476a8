package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// one row per finished listening session
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			commits INTEGER NOT NULL DEFAULT 0,
			recognition_errors INTEGER NOT NULL DEFAULT 0,
			disconnects INTEGER NOT NULL DEFAULT 0,
			inference_url TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
