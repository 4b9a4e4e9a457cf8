package migrations

import (
	"github.com/jmoiron/sqlx"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		categories TEXT[] NOT NULL DEFAULT '{}',
		price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		cover_image TEXT NOT NULL DEFAULT '',
		pages INT NOT NULL DEFAULT 0,
		publisher TEXT NOT NULL DEFAULT '',
		published_date TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL UNIQUE,
		featured BOOLEAN NOT NULL DEFAULT FALSE,
		new_release BOOLEAN NOT NULL DEFAULT FALSE,
		bestseller BOOLEAN NOT NULL DEFAULT FALSE,
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGSERIAL PRIMARY KEY,
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (book_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		order_ids BIGINT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT REFERENCES users(id),
		shipping_address JSONB NOT NULL,
		payment_method TEXT NOT NULL,
		payment_result JSONB,
		subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
		shipping_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		total NUMERIC(12,2) NOT NULL DEFAULT 0,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'pending',
		tracking_number TEXT,
		delivered_at TIMESTAMPTZ,
		notes TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		book_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		cover_image TEXT NOT NULL DEFAULT '',
		price NUMERIC(12,2) NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 1)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
}

// AutoMigrate creates the schema if it does not exist yet.
func AutoMigrate(db *sqlx.DB) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
