package persistence

// SystemMigrations returns the schema for the system database: principals,
// global config, and the cross-user audit trail (§4.1, §6).
func SystemMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "users",
			SQL: `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL,
	default_dsn   TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	disabled      BOOLEAN NOT NULL DEFAULT 0
)`,
		},
		{
			Version: 2,
			Name:    "system_config",
			SQL: `
CREATE TABLE IF NOT EXISTS system_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 3,
			Name:    "global_audit_logs",
			SQL: `
CREATE TABLE IF NOT EXISTS global_audit_logs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT,
	severity   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 4,
			Name:    "global_audit_logs_by_user",
			SQL:     `CREATE INDEX IF NOT EXISTS idx_global_audit_logs_user ON global_audit_logs(user_id, created_at)`,
		},
	}
}

// UserMigrations returns the schema for one user's database: sessions,
// conversations, async tasks, containers, and intelligence state (§6).
func UserMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "sessions",
			SQL: `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	agent_name  TEXT NOT NULL,
	status      TEXT NOT NULL,
	tool_calls  INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 2,
			Name:    "agent_configs",
			SQL: `
CREATE TABLE IF NOT EXISTS agent_configs (
	name           TEXT PRIMARY KEY,
	system_prompt  TEXT NOT NULL,
	tools_json     TEXT NOT NULL DEFAULT '[]',
	sub_agents_json TEXT NOT NULL DEFAULT '[]',
	capabilities_json TEXT NOT NULL DEFAULT '[]',
	provider       TEXT NOT NULL,
	model          TEXT NOT NULL,
	temperature    REAL NOT NULL DEFAULT 0.7,
	max_tokens     INTEGER NOT NULL DEFAULT 0,
	max_iterations INTEGER NOT NULL DEFAULT 0,
	memory_limit   INTEGER NOT NULL DEFAULT 0,
	memory_enabled BOOLEAN NOT NULL DEFAULT 0,
	agent_type     TEXT NOT NULL DEFAULT 'default',
	reflection_on  BOOLEAN NOT NULL DEFAULT 0,
	updated_at     TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 3,
			Name:    "conversations",
			SQL: `
CREATE TABLE IF NOT EXISTS conversations (
	session_id     TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	state          TEXT NOT NULL,
	final_response TEXT,
	updated_at     TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 4,
			Name:    "messages",
			SQL: `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	step_id       TEXT,
	tool_or_agent TEXT,
	category      TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	seq           INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 5,
			Name:    "messages_by_session",
			SQL:     `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
		},
		{
			Version: 6,
			Name:    "async_tasks",
			SQL: `
CREATE TABLE IF NOT EXISTS async_tasks (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 7,
			Name:    "task_progress",
			SQL: `
CREATE TABLE IF NOT EXISTS task_progress (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL REFERENCES async_tasks(id) ON DELETE CASCADE,
	percent     REAL NOT NULL DEFAULT 0,
	message     TEXT,
	reported_at TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 8,
			Name:    "task_dependencies",
			SQL: `
CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id       TEXT NOT NULL REFERENCES async_tasks(id) ON DELETE CASCADE,
	depends_on_id TEXT NOT NULL REFERENCES async_tasks(id) ON DELETE CASCADE,
	PRIMARY KEY (task_id, depends_on_id)
)`,
		},
		{
			Version: 9,
			Name:    "containers",
			SQL: `
CREATE TABLE IF NOT EXISTS containers (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT,
	image        TEXT NOT NULL,
	command_json TEXT NOT NULL DEFAULT '[]',
	env_json     TEXT NOT NULL DEFAULT '{}',
	working_dir  TEXT,
	memory_mb    INTEGER NOT NULL DEFAULT 0,
	cpu_cores    REAL NOT NULL DEFAULT 0,
	timeout_sec  INTEGER NOT NULL DEFAULT 0,
	networked    BOOLEAN NOT NULL DEFAULT 0,
	state        TEXT NOT NULL,
	pid          INTEGER NOT NULL DEFAULT 0,
	exit_code    INTEGER NOT NULL DEFAULT 0,
	ip_address   TEXT,
	auto_remove  BOOLEAN NOT NULL DEFAULT 1,
	persistent   BOOLEAN NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	started_at   TIMESTAMP,
	stopped_at   TIMESTAMP
)`,
		},
		{
			Version: 10,
			Name:    "container_metrics",
			SQL: `
CREATE TABLE IF NOT EXISTS container_metrics (
	id            TEXT PRIMARY KEY,
	container_id  TEXT NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	cpu_millis    INTEGER NOT NULL DEFAULT 0,
	memory_peak_kb INTEGER NOT NULL DEFAULT 0,
	sampled_at    TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 11,
			Name:    "tool_usage",
			SQL: `
CREATE TABLE IF NOT EXISTS tool_usage (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 12,
			Name:    "audit_logs",
			SQL: `
CREATE TABLE IF NOT EXISTS audit_logs (
	id         TEXT PRIMARY KEY,
	session_id TEXT,
	action     TEXT NOT NULL,
	detail     TEXT,
	severity   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 13,
			Name:    "container_patterns",
			SQL: `
CREATE TABLE IF NOT EXISTS container_patterns (
	id              TEXT PRIMARY KEY,
	trigger_text    TEXT NOT NULL,
	template_json   TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0.5,
	success_count   INTEGER NOT NULL DEFAULT 0,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	total_count     INTEGER NOT NULL DEFAULT 0,
	avg_exec_ms     REAL NOT NULL DEFAULT 0,
	last_used       TIMESTAMP,
	variables_json  TEXT NOT NULL DEFAULT '[]',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 14,
			Name:    "execution_contexts",
			SQL: `
CREATE TABLE IF NOT EXISTS execution_contexts (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	node_type        TEXT NOT NULL,
	parent_id        TEXT,
	payload_json     TEXT NOT NULL DEFAULT '{}',
	priority         INTEGER NOT NULL DEFAULT 0,
	execution_count  INTEGER NOT NULL DEFAULT 0,
	success_rate     REAL NOT NULL DEFAULT 0,
	avg_duration_ms  REAL NOT NULL DEFAULT 0,
	last_execution   TIMESTAMP,
	recent_errors_json TEXT NOT NULL DEFAULT '[]',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 15,
			Name:    "execution_contexts_by_session",
			SQL:     `CREATE INDEX IF NOT EXISTS idx_execution_contexts_session ON execution_contexts(session_id, node_type)`,
		},
		{
			Version: 16,
			Name:    "learning_feedback",
			SQL: `
CREATE TABLE IF NOT EXISTS learning_feedback (
	id           TEXT PRIMARY KEY,
	pattern_id   TEXT NOT NULL REFERENCES container_patterns(id) ON DELETE CASCADE,
	outcome      TEXT NOT NULL,
	delta        REAL NOT NULL,
	created_at   TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 17,
			Name:    "container_workloads",
			SQL: `
CREATE TABLE IF NOT EXISTS container_workloads (
	id            TEXT PRIMARY KEY,
	container_id  TEXT NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	step_id       TEXT NOT NULL,
	pattern_id    TEXT,
	created_at    TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 18,
			Name:    "intelligence_queries",
			SQL: `
CREATE TABLE IF NOT EXISTS intelligence_queries (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	query_json  TEXT NOT NULL DEFAULT '{}',
	result_json TEXT NOT NULL DEFAULT '{}',
	cache_hit   BOOLEAN NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 19,
			Name:    "network_allocations",
			SQL: `
CREATE TABLE IF NOT EXISTS network_allocations (
	container_id    TEXT PRIMARY KEY REFERENCES containers(id) ON DELETE CASCADE,
	ip_address      TEXT NOT NULL,
	bridge          TEXT NOT NULL,
	host_veth       TEXT NOT NULL,
	container_veth  TEXT NOT NULL,
	setup_complete  BOOLEAN NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	allocated_at    TIMESTAMP NOT NULL
)`,
		},
		{
			Version: 20,
			Name:    "process_monitors",
			SQL: `
CREATE TABLE IF NOT EXISTS process_monitors (
	container_id    TEXT PRIMARY KEY REFERENCES containers(id) ON DELETE CASCADE,
	pid             INTEGER NOT NULL,
	monitor_started TIMESTAMP NOT NULL,
	last_check      TIMESTAMP NOT NULL,
	status          TEXT NOT NULL
)`,
		},
	}
}
