package dao

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS message (
	    id TEXT PRIMARY KEY,

	    recipient_name  TEXT NOT NULL DEFAULT '',
	    recipient_email TEXT NOT NULL,
	    subject   TEXT NOT NULL,
	    body_text TEXT NOT NULL DEFAULT '',
	    body_html TEXT NOT NULL DEFAULT '',
	    kind      TEXT NOT NULL,
	    priority  INT NOT NULL DEFAULT 5,

	    status TEXT NOT NULL, -- pending, scheduled, processing, sent, failed, cancelled
	    scheduled_at    DATETIME NOT NULL,
	    attempt_count   INT NOT NULL DEFAULT 0,
	    max_attempts    INT NOT NULL DEFAULT 3,
	    last_attempt_at DATETIME,
	    sent_at         DATETIME,
	    error_message   TEXT,

	    correlation_id TEXT NOT NULL DEFAULT '',
	    campaign_id    TEXT NOT NULL DEFAULT '',
	    campaign_name  TEXT NOT NULL DEFAULT '',

	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_message_due ON message(priority, scheduled_at) WHERE status IN ('pending', 'scheduled');
	CREATE INDEX IF NOT EXISTS idx_message_status ON message(status);
	CREATE INDEX IF NOT EXISTS idx_message_campaign ON message(campaign_id);

	CREATE TABLE IF NOT EXISTS message_log (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    message_id TEXT NOT NULL,
	    created_at DATETIME NOT NULL,
	    log TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_log_message ON message_log(message_id);

	CREATE TABLE IF NOT EXISTS campaign (
	    id TEXT PRIMARY KEY,
	    name      TEXT NOT NULL,
	    subject   TEXT NOT NULL,
	    body_text TEXT NOT NULL DEFAULT '',
	    body_html TEXT NOT NULL DEFAULT '',
	    audience  TEXT NOT NULL,

	    status TEXT NOT NULL, -- draft, scheduled, sending, sent, failed, cancelled
	    scheduled_at DATETIME,
	    started_at   DATETIME,
	    completed_at DATETIME,

	    recipients INT NOT NULL DEFAULT 0,
	    queued     INT NOT NULL DEFAULT 0,
	    failed     INT NOT NULL DEFAULT 0,

	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS registration (
	    id TEXT PRIMARY KEY,
	    reference TEXT NOT NULL,
	    type      TEXT NOT NULL, -- individual, team
	    name      TEXT NOT NULL,
	    email     TEXT NOT NULL,
	    plan_name TEXT NOT NULL DEFAULT '',
	    team_name TEXT NOT NULL DEFAULT '',
	    status    TEXT NOT NULL DEFAULT 'pending',
	    created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_member (
	    registration_id TEXT NOT NULL,
	    name   TEXT NOT NULL,
	    email  TEXT NOT NULL,
	    leader BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_team_member_registration ON team_member(registration_id);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS message (
	    id TEXT PRIMARY KEY,

	    recipient_name  TEXT NOT NULL DEFAULT '',
	    recipient_email TEXT NOT NULL,
	    subject   TEXT NOT NULL,
	    body_text TEXT NOT NULL DEFAULT '',
	    body_html TEXT NOT NULL DEFAULT '',
	    kind      TEXT NOT NULL,
	    priority  INT NOT NULL DEFAULT 5,

	    status TEXT NOT NULL,
	    scheduled_at    TIMESTAMPTZ NOT NULL,
	    attempt_count   INT NOT NULL DEFAULT 0,
	    max_attempts    INT NOT NULL DEFAULT 3,
	    last_attempt_at TIMESTAMPTZ,
	    sent_at         TIMESTAMPTZ,
	    error_message   TEXT,

	    correlation_id TEXT NOT NULL DEFAULT '',
	    campaign_id    TEXT NOT NULL DEFAULT '',
	    campaign_name  TEXT NOT NULL DEFAULT '',

	    created_at TIMESTAMPTZ NOT NULL,
	    updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_message_due ON message(priority, scheduled_at) WHERE status IN ('pending', 'scheduled');
	CREATE INDEX IF NOT EXISTS idx_message_status ON message(status);
	CREATE INDEX IF NOT EXISTS idx_message_campaign ON message(campaign_id);

	CREATE TABLE IF NOT EXISTS message_log (
	    id BIGSERIAL PRIMARY KEY,
	    message_id TEXT NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL,
	    log TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_log_message ON message_log(message_id);

	CREATE TABLE IF NOT EXISTS campaign (
	    id TEXT PRIMARY KEY,
	    name      TEXT NOT NULL,
	    subject   TEXT NOT NULL,
	    body_text TEXT NOT NULL DEFAULT '',
	    body_html TEXT NOT NULL DEFAULT '',
	    audience  TEXT NOT NULL,

	    status TEXT NOT NULL,
	    scheduled_at TIMESTAMPTZ,
	    started_at   TIMESTAMPTZ,
	    completed_at TIMESTAMPTZ,

	    recipients INT NOT NULL DEFAULT 0,
	    queued     INT NOT NULL DEFAULT 0,
	    failed     INT NOT NULL DEFAULT 0,

	    created_at TIMESTAMPTZ NOT NULL,
	    updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS registration (
	    id TEXT PRIMARY KEY,
	    reference TEXT NOT NULL,
	    type      TEXT NOT NULL,
	    name      TEXT NOT NULL,
	    email     TEXT NOT NULL,
	    plan_name TEXT NOT NULL DEFAULT '',
	    team_name TEXT NOT NULL DEFAULT '',
	    status    TEXT NOT NULL DEFAULT 'pending',
	    created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_member (
	    registration_id TEXT NOT NULL,
	    name   TEXT NOT NULL,
	    email  TEXT NOT NULL,
	    leader BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_team_member_registration ON team_member(registration_id);
`
