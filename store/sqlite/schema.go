package sqlite

// Decimal columns are TEXT holding the exact decimal string.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	cash TEXT NOT NULL,
	quantity TEXT NOT NULL,
	last_price TEXT NOT NULL,
	cumulative_fees TEXT NOT NULL,
	fees TEXT NOT NULL,
	long_lots TEXT NOT NULL,
	short_lots TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol TEXT NOT NULL,
	start_date DATETIME NOT NULL,
	end_date DATETIME NOT NULL,
	granularity TEXT NOT NULL,
	decision_interval INTEGER NOT NULL,
	status TEXT NOT NULL,
	total_items INTEGER NOT NULL DEFAULT 0,
	processed_items INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	stats TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	resumed_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	seq INTEGER NOT NULL,
	action TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	amount TEXT NOT NULL,
	commission TEXT NOT NULL,
	tax TEXT NOT NULL,
	total_fees TEXT NOT NULL,
	realized_pl TEXT NOT NULL,
	open_id TEXT NOT NULL DEFAULT '',
	decision_id TEXT NOT NULL DEFAULT '',
	cash TEXT NOT NULL,
	position TEXT NOT NULL,
	market_value TEXT NOT NULL,
	total_value TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	avg_price TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_task_seq ON trades(task_id, seq);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT NOT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	account_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	price TEXT NOT NULL,
	cash TEXT NOT NULL,
	quantity TEXT NOT NULL,
	side TEXT NOT NULL,
	market_value TEXT NOT NULL,
	total_value TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	available_cash TEXT NOT NULL,
	cumulative_fees TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	profit_loss TEXT NOT NULL,
	profit_loss_percent TEXT NOT NULL,
	floating_pl TEXT NOT NULL,
	long_lots TEXT NOT NULL,
	short_lots TEXT NOT NULL,
	PRIMARY KEY (task_id, timestamp)
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT NOT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	price TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	quantity TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	reasoning TEXT NOT NULL DEFAULT '',
	lastday_trend TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, timestamp)
);
`
