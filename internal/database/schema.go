package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the two tables the signup store relies on. Statements are
// idempotent so Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS signups (
		email                 VARCHAR(254) NOT NULL PRIMARY KEY,
		verification_code     CHAR(6)      NOT NULL,
		is_verified           TINYINT(1)   NOT NULL DEFAULT 0,
		verified_at           DATETIME(3)  NULL,
		verification_attempts INT          NOT NULL DEFAULT 0,
		locked_until          DATETIME(3)  NULL,
		welcome_message_id    INT          NULL,
		calculated_number     BIGINT       NULL,
		ip_address            VARCHAR(45)  NOT NULL DEFAULT '',
		user_agent            VARCHAR(512) NOT NULL DEFAULT '',
		created_at            DATETIME(3)  NOT NULL,
		updated_at            DATETIME(3)  NOT NULL,
		KEY idx_signups_created_at (created_at),
		KEY idx_signups_verified (is_verified)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS verification_attempts (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email          VARCHAR(254)    NOT NULL,
		attempted_code VARCHAR(64)     NOT NULL,
		was_successful TINYINT(1)      NOT NULL DEFAULT 0,
		ip_address     VARCHAR(45)     NOT NULL DEFAULT '',
		created_at     DATETIME(3)     NOT NULL,
		KEY idx_attempts_email_created (email, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
