package db

import (
	"context"
	"fmt"
)

// schema holds the DDL applied by Migrate. Uniqueness of memberships and join
// requests per (hike, user) and the cascades from hikes live here.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		username      VARCHAR(150) NOT NULL UNIQUE,
		email         VARCHAR(254) NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		is_public     BOOLEAN NOT NULL DEFAULT TRUE,
		bio           TEXT NOT NULL DEFAULT '',
		avatar_url    TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token      TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS hikes (
		id             UUID PRIMARY KEY,
		creator_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title          VARCHAR(120) NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		location_name  VARCHAR(200) NOT NULL,
		meet_lat       DOUBLE PRECISION,
		meet_lng       DOUBLE PRECISION,
		start_time     TIMESTAMPTZ NOT NULL,
		end_time       TIMESTAMPTZ,
		intensity      VARCHAR(30) NOT NULL DEFAULT 'easy',
		max_people     INTEGER NOT NULL DEFAULT 10 CHECK (max_people > 0),
		visibility     VARCHAR(10) NOT NULL DEFAULT 'public' CHECK (visibility IN ('public', 'private')),
		items_to_carry TEXT NOT NULL DEFAULT '',
		itinerary      TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS hikes_visibility_created_idx ON hikes (visibility, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS hike_memberships (
		hike_id   UUID NOT NULL REFERENCES hikes(id) ON DELETE CASCADE,
		user_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role      VARCHAR(10) NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (hike_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS hike_memberships_user_idx ON hike_memberships (user_id)`,
	`CREATE TABLE IF NOT EXISTS join_requests (
		id         UUID PRIMARY KEY,
		hike_id    UUID NOT NULL REFERENCES hikes(id) ON DELETE CASCADE,
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status     VARCHAR(10) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (hike_id, user_id)
	)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
