package store

// Money columns hold integer pico-dollars so increments stay exact in SQL.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    model_used           TEXT NOT NULL,
    start_time           TEXT NOT NULL,
    end_time             TEXT,
    total_cost_picos     INTEGER NOT NULL DEFAULT 0,
    total_messages       INTEGER NOT NULL DEFAULT 0,
    total_input_tokens   INTEGER NOT NULL DEFAULT 0,
    total_output_tokens  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    role                 TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    input_tokens         INTEGER NOT NULL CHECK (input_tokens >= 0),
    output_tokens        INTEGER NOT NULL CHECK (output_tokens >= 0),
    cost_picos           INTEGER NOT NULL,
    model_used           TEXT NOT NULL,
    content              TEXT,
    created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS budgets (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    budget_type          TEXT NOT NULL CHECK (budget_type IN ('daily', 'monthly', 'total')),
    limit_picos          INTEGER NOT NULL CHECK (limit_picos > 0),
    spent_picos          INTEGER NOT NULL DEFAULT 0,
    reset_date           TEXT NOT NULL,
    is_active            INTEGER NOT NULL DEFAULT 1,
    created_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_budgets_active_type ON budgets(budget_type) WHERE is_active = 1;
`
