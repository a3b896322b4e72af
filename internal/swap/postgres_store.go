package swap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/pagination"
)

// PostgresStore persists swap records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed swap store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const swapColumns = `engine, id, class, token, token_id, amount,
		       proposer, withdrawer, secret_hash, secret,
		       timelock, state, created_at, closed_at, notified_at`

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO swaps (
			engine, id, class, token, token_id, amount,
			proposer, withdrawer, secret_hash, secret,
			timelock, state, created_at, closed_at, notified_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(78,0), $6::NUMERIC(78,0),
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
		ON CONFLICT (engine, id) DO NOTHING`,
		r.Engine, r.ID.Hex(), string(r.Class), r.Asset.Token.Hex(),
		nullBig(r.Asset.TokenID), nullBig(r.Asset.Amount),
		r.Proposer.Hex(), r.Withdrawer.Hex(), r.SecretHash.Hex(), nullHash(r.Secret),
		r.Timelock, string(r.State), r.CreatedAt, nullTime(r.ClosedAt), nullTime(r.NotifiedAt),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, engine string, id common.Hash) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE engine = $1 AND id = $2`, engine, id.Hex())

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return r, err
}

// Transition locks the row, checks its state and writes the mutated record
// in one transaction.
func (p *PostgresStore) Transition(ctx context.Context, engine string, id common.Hash, from, to State, mutate func(*Record)) (*Record, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE engine = $1 AND id = $2 FOR UPDATE`, engine, id.Hex())
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.State != from {
		return nil, ErrNotOpened
	}

	r.State = to
	if mutate != nil {
		mutate(r)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE swaps SET
			state = $1, secret = $2, closed_at = $3, notified_at = $4
		WHERE engine = $5 AND id = $6 AND state = $7`,
		string(r.State), nullHash(r.Secret), nullTime(r.ClosedAt), nullTime(r.NotifiedAt),
		engine, id.Hex(), string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("update swap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, engine string, addr common.Address, before *pagination.Cursor, limit int) ([]*Record, error) {
	var (
		beforeAt     sql.NullTime
		beforeID     string
		beforeEngine string
	)
	if before != nil {
		beforeAt = sql.NullTime{Time: before.CreatedAt, Valid: true}
		beforeID, beforeEngine = before.ID, before.Scope
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+swapColumns+`
		FROM swaps
		WHERE ($1 = '' OR engine = $1)
		  AND (proposer = $2 OR withdrawer = $2)
		  AND ($3::timestamptz IS NULL OR (created_at, id, engine) < ($3, $4, $5))
		ORDER BY created_at DESC, id DESC, engine DESC
		LIMIT $6`, engine, addr.Hex(), beforeAt, beforeID, beforeEngine, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) ListOpenExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+swapColumns+`
		FROM swaps
		WHERE state = 'open'
		  AND notified_at IS NULL
		  AND timelock <= $1
		ORDER BY timelock ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) MarkNotified(ctx context.Context, engine string, id common.Hash, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE swaps SET notified_at = $1 WHERE engine = $2 AND id = $3`,
		at, engine, id.Hex(),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	r := &Record{}
	var (
		id, class, token, proposer, withdrawer, secretHash, state string
		tokenID, amount, secret                                   sql.NullString
		closedAt, notifiedAt                                      sql.NullTime
	)

	err := s.Scan(
		&r.Engine, &id, &class, &token, &tokenID, &amount,
		&proposer, &withdrawer, &secretHash, &secret,
		&r.Timelock, &state, &r.CreatedAt, &closedAt, &notifiedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ID = common.HexToHash(id)
	r.Class = AssetClass(class)
	r.Asset.Token = common.HexToAddress(token)
	if r.Asset.TokenID, err = parseNullBig(tokenID); err != nil {
		return nil, fmt.Errorf("token_id: %w", err)
	}
	if r.Asset.Amount, err = parseNullBig(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	r.Proposer = common.HexToAddress(proposer)
	r.Withdrawer = common.HexToAddress(withdrawer)
	r.SecretHash = common.HexToHash(secretHash)
	if secret.Valid {
		h := common.HexToHash(secret.String)
		r.Secret = &h
	}
	r.State = State(state)
	r.Timelock = r.Timelock.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		r.ClosedAt = &t
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time.UTC()
		r.NotifiedAt = &t
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullBig(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseNullBig(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s.String)
	}
	return v, nil
}

func nullHash(h *common.Hash) sql.NullString {
	if h == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: h.Hex(), Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// PostgresEventStore persists the swap event log.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a PostgreSQL-backed event log.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Append(ctx context.Context, ev Event) error {
	snapshot, err := json.Marshal(ev.Record)
	if err != nil {
		return fmt.Errorf("marshal swap snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO swap_events (engine, swap_id, type, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Engine, ev.SwapID.Hex(), string(ev.Type), snapshot, ev.Timestamp,
	)
	return err
}

func (p *PostgresEventStore) ListBySwap(ctx context.Context, engine string, id common.Hash) ([]Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT type, snapshot, created_at
		FROM swap_events
		WHERE engine = $1 AND swap_id = $2
		ORDER BY created_at ASC, seq ASC`, engine, id.Hex())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []Event
	for rows.Next() {
		var (
			typ      string
			snapshot []byte
			ev       = Event{Engine: engine, SwapID: id}
		)
		if err := rows.Scan(&typ, &snapshot, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = EventType(typ)
		if len(snapshot) > 0 {
			rec := &Record{}
			if err := json.Unmarshal(snapshot, rec); err == nil {
				ev.Record = rec
			}
		}
		ev.Timestamp = ev.Timestamp.UTC()
		result = append(result, ev)
	}
	return result, rows.Err()
}

// Compile-time assertions that the Postgres stores implement their interfaces.
var (
	_ Store      = (*PostgresStore)(nil)
	_ EventStore = (*PostgresEventStore)(nil)
)
