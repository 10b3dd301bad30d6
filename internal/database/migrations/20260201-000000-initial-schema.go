package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260201-000000",
		Description: "Initial schema",
		Up: []string{
			// Properties - appraisal records keyed by the county's property id.
			// Timestamps are RFC3339 strings; created_at survives re-scrapes.
			`CREATE TABLE IF NOT EXISTS properties (
				property_id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				prop_type TEXT NOT NULL DEFAULT '',
				city TEXT,
				property_address TEXT NOT NULL DEFAULT '',
				assessed_value INTEGER NOT NULL DEFAULT 0,
				appraised_value INTEGER NOT NULL DEFAULT 0,
				geo_id TEXT,
				description TEXT,
				search_term TEXT NOT NULL,
				scraped_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_properties_search_term ON properties(search_term)`,
			`CREATE INDEX IF NOT EXISTS idx_properties_city ON properties(city)`,

			// Scrape jobs - one row per requested search
			`CREATE TABLE IF NOT EXISTS scrape_jobs (
				id TEXT PRIMARY KEY,
				search_term TEXT NOT NULL,
				year INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				progress INTEGER NOT NULL DEFAULT 0,
				result_count INTEGER NOT NULL DEFAULT 0,
				page_size_used INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				attempts INTEGER NOT NULL DEFAULT 0,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created_at ON scrape_jobs(created_at)`,

			// Queue messages - durable delivery queue backing the workers.
			// dedup_key carries the normalized search fingerprint so the
			// gate can reject duplicates while a message is in flight.
			`CREATE TABLE IF NOT EXISTS queue_messages (
				id TEXT PRIMARY KEY,
				body TEXT NOT NULL,
				dedup_key TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'waiting',
				priority INTEGER NOT NULL DEFAULT 5,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				available_at TEXT NOT NULL,
				claimed_at TEXT,
				last_error TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_messages_state ON queue_messages(state, priority, available_at)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_messages_dedup_key ON queue_messages(dedup_key)`,

			// Token cache - the encrypted upstream bearer token, one row
			`CREATE TABLE IF NOT EXISTS token_cache (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				token_encrypted TEXT NOT NULL,
				acquired_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	})
}
