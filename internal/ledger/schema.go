package ledger

// Schema creates the processed-message ledger. The UNIQUE index is the
// only exactly-once guard in the system; MarkProcessed relies on it.
const Schema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	store_id TEXT NOT NULL,
	processed_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_processed_messages_key
	ON processed_messages(message_id, store_id);

CREATE INDEX IF NOT EXISTS idx_processed_messages_store
	ON processed_messages(store_id);
`
