package sqldb

// schema is valid for both SQLite and PostgreSQL. Statements are split on
// semicolons, so none may contain one.
const schema = `
CREATE TABLE IF NOT EXISTS units (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS sales (
	id                TEXT PRIMARY KEY,
	unit_kind         TEXT NOT NULL,
	unit_id           TEXT NOT NULL,
	buyer_id          TEXT NOT NULL,
	seller_id         TEXT NOT NULL,
	total_price       TEXT NOT NULL,
	down_payment      TEXT NOT NULL,
	mode              TEXT NOT NULL,
	model             TEXT NOT NULL,
	annual_rate       TEXT NOT NULL,
	frequency         TEXT NOT NULL,
	commission_amount TEXT NOT NULL,
	state             TEXT NOT NULL,
	approver_id       TEXT,
	approved_at       TEXT,
	rejection_reason  TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	FOREIGN KEY (unit_kind, unit_id) REFERENCES units(kind, id)
);

CREATE INDEX IF NOT EXISTS idx_sales_unit ON sales(unit_kind, unit_id);

CREATE TABLE IF NOT EXISTS installments (
	id            TEXT PRIMARY KEY,
	sale_id       TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	number        INTEGER NOT NULL,
	due_date      TEXT NOT NULL,
	amount        TEXT NOT NULL,
	capital       TEXT NOT NULL,
	interest      TEXT NOT NULL,
	prior_balance TEXT NOT NULL,
	post_balance  TEXT NOT NULL,
	paid_amount   TEXT NOT NULL,
	state         TEXT NOT NULL,
	payment_date  TEXT,
	UNIQUE (sale_id, number)
);

CREATE INDEX IF NOT EXISTS idx_installments_overdue ON installments(state, due_date);

CREATE TABLE IF NOT EXISTS reprogramming_events (
	id             TEXT PRIMARY KEY,
	sale_id        TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	reason         TEXT NOT NULL,
	plan_model     TEXT,
	plan_rate      TEXT,
	plan_frequency TEXT,
	recalculated   INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	created_by     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reprogramming_sale ON reprogramming_events(sale_id, created_at);

CREATE TABLE IF NOT EXISTS reprogramming_discounts (
	event_id           TEXT NOT NULL REFERENCES reprogramming_events(id) ON DELETE CASCADE,
	position           INTEGER NOT NULL,
	installment_id     TEXT NOT NULL REFERENCES installments(id) ON DELETE CASCADE,
	installment_number INTEGER NOT NULL,
	amount             TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (event_id, position)
);

CREATE TABLE IF NOT EXISTS reprogramming_modifications (
	event_id           TEXT NOT NULL REFERENCES reprogramming_events(id) ON DELETE CASCADE,
	position           INTEGER NOT NULL,
	installment_id     TEXT NOT NULL REFERENCES installments(id) ON DELETE CASCADE,
	installment_number INTEGER NOT NULL,
	previous_amount    TEXT NOT NULL,
	new_amount         TEXT NOT NULL,
	previous_due_date  TEXT NOT NULL,
	new_due_date       TEXT NOT NULL,
	PRIMARY KEY (event_id, position)
);

CREATE TABLE IF NOT EXISTS commission_payments (
	id           TEXT PRIMARY KEY,
	sale_id      TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	amount       TEXT NOT NULL,
	payment_date TEXT NOT NULL,
	method       TEXT NOT NULL,
	payment_type TEXT NOT NULL,
	observations TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commission_sale ON commission_payments(sale_id, created_at);

CREATE TABLE IF NOT EXISTS commission_receipts (
	payment_id TEXT NOT NULL REFERENCES commission_payments(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	ref        TEXT NOT NULL,
	PRIMARY KEY (payment_id, seq)
);

CREATE TABLE IF NOT EXISTS cancellation_requests (
	id                TEXT PRIMARY KEY,
	sale_id           TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	type              TEXT NOT NULL,
	reason            TEXT NOT NULL,
	refund_type       TEXT NOT NULL,
	refund_amount     TEXT,
	refund_percentage TEXT,
	state             TEXT NOT NULL,
	requested_by      TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	recorded_at  TEXT NOT NULL,
	actor_id     TEXT NOT NULL,
	action       TEXT NOT NULL,
	sale_id      TEXT NOT NULL,
	payload_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_sale ON audit_log(sale_id, recorded_at)
`
