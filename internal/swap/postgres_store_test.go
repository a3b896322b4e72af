package swap

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/pagination"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func swapRow(state State, secret *common.Hash) *sqlmock.Rows {
	var sec interface{}
	if secret != nil {
		sec = secret.Hex()
	}
	return sqlmock.NewRows([]string{
		"engine", "id", "class", "token", "token_id", "amount",
		"proposer", "withdrawer", "secret_hash", "secret",
		"timelock", "state", "created_at", "closed_at", "notified_at",
	}).AddRow(
		NameERC1155, swapID.Hex(), "erc1155", podToken.Hex(), "7", "250",
		proposer.Hex(), withdrawer.Hex(), SecretHash(secretA, withdrawer).Hex(), sec,
		t0.Add(time.Hour), string(state), t0, nil, nil,
	)
}

func TestPostgresStore_CreateConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO swaps")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO swaps")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &Record{
		ID: swapID, Engine: NameERC20, Class: ClassERC20,
		Asset:    Asset{Token: podToken, Amount: big.NewInt(100)},
		Proposer: proposer, Withdrawer: withdrawer,
		SecretHash: SecretHash(secretA, withdrawer),
		Timelock:   t0.Add(time.Hour), State: StateOpen, CreatedAt: t0,
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(context.Background(), rec); !errors.Is(err, ErrSwapExists) {
		t.Fatalf("Expected ErrSwapExists on conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_GetScansRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM swaps WHERE engine = $1 AND id = $2")).
		WithArgs(NameERC1155, swapID.Hex()).
		WillReturnRows(swapRow(StateOpen, nil))

	rec, err := store.Get(context.Background(), NameERC1155, swapID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.ID != swapID || rec.Class != ClassERC1155 || rec.State != StateOpen {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.Asset.TokenID.Int64() != 7 || rec.Asset.Amount.Int64() != 250 {
		t.Errorf("Unexpected asset %+v", rec.Asset)
	}
	if rec.Proposer != proposer || rec.Withdrawer != withdrawer {
		t.Errorf("Unexpected parties %s %s", rec.Proposer.Hex(), rec.Withdrawer.Hex())
	}
	if rec.Secret != nil || rec.ClosedAt != nil {
		t.Error("Expected open record without secret")
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM swaps")).WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), NameERC20, swapID); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("Expected ErrSwapNotFound, got %v", err)
	}
}

func TestPostgresStore_TransitionCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(NameERC1155, swapID.Hex()).
		WillReturnRows(swapRow(StateOpen, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE swaps SET")).
		WithArgs("claimed", secretA.Hex(), sqlmock.AnyArg(), nil, NameERC1155, swapID.Hex(), "open").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	closed := t0.Add(time.Minute)
	rec, err := store.Transition(context.Background(), NameERC1155, swapID, StateOpen, StateClaimed, func(r *Record) {
		s := secretA
		r.Secret = &s
		r.ClosedAt = &closed
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.State != StateClaimed || rec.Secret == nil || *rec.Secret != secretA {
		t.Errorf("Unexpected record after transition %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_TransitionWrongStateRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	secret := secretA

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(swapRow(StateClaimed, &secret))
	mock.ExpectRollback()

	_, err := store.Transition(context.Background(), NameERC1155, swapID, StateOpen, StateRefunded, nil)
	if !errors.Is(err, ErrNotOpened) {
		t.Fatalf("Expected ErrNotOpened, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_ListByPartyKeyset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("(created_at, id, engine) < ($3, $4, $5)")).
		WithArgs("", withdrawer.Hex(), sql.NullTime{}, "", "", 10).
		WillReturnRows(swapRow(StateOpen, nil))
	cur := &pagination.Cursor{CreatedAt: t0.Add(time.Minute), ID: swapID.Hex(), Scope: NameERC20}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC, engine DESC")).
		WithArgs(NameERC1155, withdrawer.Hex(), sql.NullTime{Time: cur.CreatedAt, Valid: true}, cur.ID, NameERC20, 10).
		WillReturnRows(swapRow(StateOpen, nil))

	recs, err := store.ListByParty(context.Background(), "", withdrawer, nil, 10)
	if err != nil {
		t.Fatalf("ListByParty failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != swapID {
		t.Fatalf("Unexpected first page %+v", recs)
	}
	if _, err := store.ListByParty(context.Background(), NameERC1155, withdrawer, cur, 10); err != nil {
		t.Fatalf("ListByParty with cursor failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_MarkNotifiedMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE swaps SET notified_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.MarkNotified(context.Background(), NameERC20, swapID, t0); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("Expected ErrSwapNotFound, got %v", err)
	}
}

func TestPostgresEventStore_AppendAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	store := NewPostgresEventStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO swap_events")).
		WithArgs(NameERC20, swapID.Hex(), "swap.created", sqlmock.AnyArg(), t0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &Record{ID: swapID, Engine: NameERC20, State: StateOpen, Asset: Asset{Token: podToken, Amount: big.NewInt(5)}}
	if err := store.Append(ctx, Event{Type: EventCreated, Engine: NameERC20, SwapID: swapID, Record: rec, Timestamp: t0}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM swap_events")).
		WithArgs(NameERC20, swapID.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"type", "snapshot", "created_at"}).
			AddRow("swap.created", []byte(`{"state":"open","asset":{"token":"`+podToken.Hex()+`","amount":"5"}}`), t0).
			AddRow("swap.claimed", []byte(`{"state":"claimed"}`), t0.Add(time.Minute)))

	events, err := store.ListBySwap(ctx, NameERC20, swapID)
	if err != nil {
		t.Fatalf("ListBySwap failed: %v", err)
	}
	if len(events) != 2 || events[1].Type != EventClaimed {
		t.Fatalf("Unexpected events %+v", events)
	}
	if events[0].Record == nil || events[0].Record.Asset.Amount.Int64() != 5 {
		t.Errorf("Expected snapshot decoded, got %+v", events[0].Record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
