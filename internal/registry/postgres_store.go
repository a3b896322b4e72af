package registry

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/mbd888/podswap/internal/swap"
)

// PostgresStore persists registered assets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed asset store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const assetColumns = `class, token, symbol, name, decimals, created_at`

func (p *PostgresStore) Add(ctx context.Context, a *Asset) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO registered_assets (class, token, symbol, name, decimals, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(a.Class), a.Token.Hex(), a.Symbol, a.Name, a.Decimals, a.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAssetExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, class swap.AssetClass, token common.Address) (*Asset, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM registered_assets WHERE class = $1 AND token = $2`,
		string(class), token.Hex())
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}
	return a, err
}

func (p *PostgresStore) List(ctx context.Context, class swap.AssetClass) ([]*Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM registered_assets
		WHERE ($1 = '' OR class = $1)
		ORDER BY class, symbol`, string(class))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registered_assets`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(s scanner) (*Asset, error) {
	var (
		a            Asset
		class, token string
	)
	if err := s.Scan(&class, &token, &a.Symbol, &a.Name, &a.Decimals, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Class = swap.AssetClass(class)
	a.Token = common.HexToAddress(token)
	return &a, nil
}

var _ Store = (*PostgresStore)(nil)
