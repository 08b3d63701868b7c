package database

import (
	"context"
	"database/sql"
)

// Table definitions applied at startup.  Statements are idempotent so
// a restart against an existing database is a no-op.  CHECK
// constraints on the counters back up the conditional updates the
// repositories rely on.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS programs (
        id                   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        title                VARCHAR(255)    NOT NULL,
        description          TEXT            NOT NULL,
        category             VARCHAR(64)     NOT NULL DEFAULT '',
        base_price           BIGINT          NOT NULL,
        early_bird_price     BIGINT          NULL,
        early_bird_deadline  DATETIME        NULL,
        max_participants     INT UNSIGNED    NOT NULL,
        current_participants INT UNSIGNED    NOT NULL DEFAULT 0,
        status               VARCHAR(16)     NOT NULL DEFAULT 'open',
        start_date           DATETIME        NOT NULL,
        end_date             DATETIME        NOT NULL,
        created_at           DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at           DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        KEY idx_programs_status (status),
        KEY idx_programs_category (category),
        CONSTRAINT chk_programs_capacity CHECK (current_participants <= max_participants)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservations (
        id                BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        program_id        BIGINT UNSIGNED NOT NULL,
        user_id           BIGINT UNSIGNED NOT NULL,
        participant_name  VARCHAR(128)    NOT NULL,
        participant_phone VARCHAR(32)     NOT NULL,
        participant_email VARCHAR(255)    NOT NULL DEFAULT '',
        amount_paid       BIGINT          NOT NULL,
        is_early_bird     TINYINT(1)      NOT NULL DEFAULT 0,
        status            VARCHAR(16)     NOT NULL DEFAULT 'registered',
        payment_status    VARCHAR(16)     NOT NULL DEFAULT 'pending',
        created_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        KEY idx_reservations_user (user_id),
        KEY idx_reservations_program (program_id),
        CONSTRAINT fk_reservations_program FOREIGN KEY (program_id) REFERENCES programs (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS payments (
        id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        order_id       VARCHAR(64)     NOT NULL,
        reservation_id BIGINT UNSIGNED NULL,
        program_id     BIGINT UNSIGNED NOT NULL,
        user_id        BIGINT UNSIGNED NOT NULL,
        amount         BIGINT          NOT NULL,
        currency       VARCHAR(8)      NOT NULL DEFAULT 'KRW',
        status         VARCHAR(16)     NOT NULL DEFAULT 'pending',
        payment_method VARCHAR(32)     NOT NULL DEFAULT '',
        provider       VARCHAR(32)     NOT NULL DEFAULT '',
        provider_tx_id VARCHAR(128)    NOT NULL DEFAULT '',
        raw_data       MEDIUMBLOB      NULL,
        slot_released  TINYINT(1)      NOT NULL DEFAULT 0,
        approved_at    DATETIME        NULL,
        cancelled_at   DATETIME        NULL,
        created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        UNIQUE KEY uq_payments_order (order_id),
        KEY idx_payments_status_created (status, created_at),
        CONSTRAINT fk_payments_reservation FOREIGN KEY (reservation_id) REFERENCES reservations (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refunds (
        id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        payment_id   BIGINT UNSIGNED NOT NULL,
        amount       BIGINT          NOT NULL,
        reason       VARCHAR(255)    NOT NULL DEFAULT '',
        status       VARCHAR(16)     NOT NULL DEFAULT 'pending',
        processed_by BIGINT UNSIGNED NULL,
        raw_data     MEDIUMBLOB      NULL,
        created_at   DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at   DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        KEY idx_refunds_payment (payment_id),
        KEY idx_refunds_status (status),
        CONSTRAINT fk_refunds_payment FOREIGN KEY (payment_id) REFERENCES payments (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the service's tables when they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
