package sqlstore

// Dialect holds the statements that differ between database engines.
// Placeholders are "?" in both supported dialects.
type Dialect struct {
	Name   string
	Driver string
	Schema []string

	UpsertSnapshot string
}

// SQLite targets modernc.org/sqlite (pure Go, no cgo).
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, id)`,
	},
	UpsertSnapshot: `INSERT INTO sessions (session_id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
}

// MySQL targets github.com/go-sql-driver/mysql.
var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(255) NOT NULL PRIMARY KEY,
			snapshot LONGTEXT NOT NULL,
			updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			action VARCHAR(64) NOT NULL,
			payload LONGTEXT NOT NULL,
			created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_session_events_session (session_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	UpsertSnapshot: `INSERT INTO sessions (session_id, snapshot, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			snapshot = VALUES(snapshot),
			updated_at = VALUES(updated_at)`,
}
