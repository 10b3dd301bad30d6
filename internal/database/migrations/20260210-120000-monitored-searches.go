package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260210-120000",
		Description: "Monitored searches",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS monitored_searches (
				id TEXT PRIMARY KEY,
				search_term TEXT NOT NULL,
				frequency TEXT NOT NULL DEFAULT 'daily',
				enabled INTEGER NOT NULL DEFAULT 1,
				last_run_at TEXT,
				last_job_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_monitored_searches_enabled ON monitored_searches(enabled)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitored_searches_term ON monitored_searches(search_term)`,
		},
	})
}
