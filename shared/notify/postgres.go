package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresDirectory reads recipients from the users table shared with the
// account service:
//
//	users(email TEXT, phone TEXT, is_verified BOOLEAN, ...)
type PostgresDirectory struct {
	db *sql.DB
}

func OpenPostgresDirectory(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("directory open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresDirectory{db: db}, nil
}

// NewPostgresDirectory wraps an existing pool.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) VerifiedRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT COALESCE(email, ''), COALESCE(phone, '')
		FROM users
		WHERE is_verified = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("directory query: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r := Recipient{Verified: true}
		if err := rows.Scan(&r.Email, &r.Phone); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Close() error { return d.db.Close() }
