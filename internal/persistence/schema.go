package persistence

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "tc-v1-2026-09-28-core"

	// v2 adds the work product full-text index and the claim pairing check.
	schemaVersionV2  = 2
	schemaChecksumV2 = "tc-v2-2026-10-06-wp-fts"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2
)

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS prds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT,
		content TEXT,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'archived')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS streams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		prd_id INTEGER REFERENCES prds(id),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'completed', 'archived')),
		worktree_path TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prd_id INTEGER REFERENCES prds(id),
		stream_id INTEGER REFERENCES streams(id),
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed', 'blocked', 'cancelled')),
		agent TEXT,
		claimed_by TEXT,
		claimed_at DATETIME,
		priority INTEGER NOT NULL DEFAULT 2 CHECK (priority BETWEEN 0 AND 3),
		parent_task_id INTEGER REFERENCES tasks(id),
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		depends_on INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		PRIMARY KEY (task_id, depends_on),
		CHECK (task_id != depends_on)
	);`,
	`CREATE TABLE IF NOT EXISTS work_products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER REFERENCES tasks(id),
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT,
		file_path TEXT,
		agent TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS agent_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent TEXT NOT NULL,
		stream_id INTEGER REFERENCES streams(id),
		task_id INTEGER REFERENCES tasks(id),
		action TEXT NOT NULL,
		details TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_stream ON tasks(stream_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_prd ON tasks(prd_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority, id);`,
	`CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_dependencies(depends_on);`,
	`CREATE INDEX IF NOT EXISTS idx_wp_task ON work_products(task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_wp_type ON work_products(type);`,
	`CREATE INDEX IF NOT EXISTS idx_log_agent ON agent_log(agent);`,
	`CREATE INDEX IF NOT EXISTS idx_log_stream ON agent_log(stream_id);`,
	`CREATE INDEX IF NOT EXISTS idx_log_task ON agent_log(task_id);`,
}

// schemaV2 is applied on top of v1. Claim pairing is enforced with triggers
// because SQLite cannot add a CHECK constraint to an existing table.
var schemaV2 = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS work_products_fts USING fts4(
		content="work_products", title, content, type, agent
	);`,
	`CREATE TRIGGER IF NOT EXISTS wp_fts_bu BEFORE UPDATE ON work_products BEGIN
		DELETE FROM work_products_fts WHERE docid = old.rowid;
	END;`,
	`CREATE TRIGGER IF NOT EXISTS wp_fts_bd BEFORE DELETE ON work_products BEGIN
		DELETE FROM work_products_fts WHERE docid = old.rowid;
	END;`,
	`CREATE TRIGGER IF NOT EXISTS wp_fts_au AFTER UPDATE ON work_products BEGIN
		INSERT INTO work_products_fts(docid, title, content, type, agent)
		VALUES (new.rowid, new.title, new.content, new.type, new.agent);
	END;`,
	`CREATE TRIGGER IF NOT EXISTS wp_fts_ai AFTER INSERT ON work_products BEGIN
		INSERT INTO work_products_fts(docid, title, content, type, agent)
		VALUES (new.rowid, new.title, new.content, new.type, new.agent);
	END;`,
	`CREATE TRIGGER IF NOT EXISTS tasks_claim_pair_ins BEFORE INSERT ON tasks
	WHEN (new.claimed_by IS NULL) != (new.claimed_at IS NULL) BEGIN
		SELECT RAISE(ABORT, 'claimed_by and claimed_at must be set together');
	END;`,
	`CREATE TRIGGER IF NOT EXISTS tasks_claim_pair_upd BEFORE UPDATE OF claimed_by, claimed_at ON tasks
	WHEN (new.claimed_by IS NULL) != (new.claimed_at IS NULL) BEGIN
		SELECT RAISE(ABORT, 'claimed_by and claimed_at must be set together');
	END;`,
	// Rebuild covers rows written before the index existed.
	`INSERT INTO work_products_fts(work_products_fts) VALUES ('rebuild');`,
}
