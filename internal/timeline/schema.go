package timeline

// Schema creates the append-only turn log. created_at holds unix nanoseconds
// assigned by the service, never by the caller.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id TEXT UNIQUE NOT NULL,
	channel_id TEXT NOT NULL,
	thread_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_channel_time ON turns(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_turns_thread_time ON turns(channel_id, thread_id, created_at);
`
