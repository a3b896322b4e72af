package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/mbd888/podswap/internal/swap"
)

// PostgresStore persists webhook subscriptions in PostgreSQL. The schema is
// created by the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, owner_addr, url, secret, events, active, created_at, last_error, last_error_at`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, owner_addr, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.Owner.Hex(), sub.URL, sub.Secret, pq.Array(eventStrings(sub.Events)), sub.Active, sub.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM webhooks WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

func (p *PostgresStore) ListByOwner(ctx context.Context, owner common.Address) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhooks WHERE owner_addr = $1 ORDER BY created_at DESC
	`, owner.Hex())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (p *PostgresStore) SetError(ctx context.Context, id, msg string, at time.Time) error {
	return p.exec(ctx, `UPDATE webhooks SET last_error = $1, last_error_at = $2 WHERE id = $3`, msg, at, id)
}

func (p *PostgresStore) ClearError(ctx context.Context, id string) error {
	return p.exec(ctx, `UPDATE webhooks SET last_error = NULL, last_error_at = NULL WHERE id = $1`, id)
}

func (p *PostgresStore) Delete(ctx context.Context, id string, owner common.Address) error {
	return p.exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND owner_addr = $2`, id, owner.Hex())
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(s scanner) (*Subscription, error) {
	var (
		sub         Subscription
		owner       string
		events      pq.StringArray
		lastError   sql.NullString
		lastErrorAt sql.NullTime
	)
	if err := s.Scan(&sub.ID, &owner, &sub.URL, &sub.Secret, &events,
		&sub.Active, &sub.CreatedAt, &lastError, &lastErrorAt); err != nil {
		return nil, err
	}
	sub.Owner = common.HexToAddress(owner)
	for _, e := range events {
		sub.Events = append(sub.Events, swap.EventType(e))
	}
	sub.LastError = lastError.String
	if lastErrorAt.Valid {
		sub.LastErrorAt = &lastErrorAt.Time
	}
	return &sub, nil
}

func eventStrings(events []swap.EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)
