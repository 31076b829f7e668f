package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/cart"
	"github.com/noah-isme/cartino/internal/events"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs   []execCall
	tag     pgconn.CommandTag
	execErr error
	row     []byte
	rowErr  error
	queries []execCall
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.tag, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	return fakeRow{raw: f.row, err: f.rowErr}
}

type fakeRow struct {
	raw []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.raw
	return nil
}

func TestFindOwnerInstanceQueriesByOwnerKind(t *testing.T) {
	doc := cart.Cart{
		ID:    "c1",
		Owner: cart.UserOwner("u1"),
		Kind:  cart.KindWishlist,
		Items: []cart.Item{{ItemID: "A", Quantity: 2, Price: decimal.RequireFromString("9.99")}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	db := &fakeDB{row: raw}
	s := New(db)

	got, err := s.FindOwnerInstance(context.Background(), cart.UserOwner("u1"), cart.KindWishlist)
	require.NoError(t, err)
	require.Equal(t, "c1", got.ID)
	require.Equal(t, "9.99", got.Items[0].Price.StringFixed(2))
	require.Equal(t, findUserSQL, db.queries[0].sql)
	require.Equal(t, []any{"u1", "wishlist"}, db.queries[0].args)

	_, err = s.FindOwnerInstance(context.Background(), cart.GuestOwner("sess"), cart.KindCart)
	require.NoError(t, err)
	require.Equal(t, findGuestSQL, db.queries[1].sql)
	require.Equal(t, []any{"sess", "cart"}, db.queries[1].args)
}

func TestFindOwnerInstanceMapsNoRows(t *testing.T) {
	s := New(&fakeDB{rowErr: pgx.ErrNoRows})
	_, err := s.FindOwnerInstance(context.Background(), cart.UserOwner("u1"), cart.KindCart)
	require.ErrorIs(t, err, cart.ErrNotFound)

	boom := errors.New("boom")
	s = New(&fakeDB{rowErr: boom})
	_, err = s.FindOwnerInstance(context.Background(), cart.UserOwner("u1"), cart.KindCart)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, cart.ErrNotFound)
}

func TestSaveUpsertsDocument(t *testing.T) {
	db := &fakeDB{}
	s := New(db)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &cart.Cart{ID: "c1", Owner: cart.GuestOwner("sess"), Kind: cart.KindSaveForLater, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, s.Save(context.Background(), c))
	require.Len(t, db.execs, 1)
	args := db.execs[0].args
	require.Equal(t, "c1", args[0])
	require.Equal(t, "", args[1])
	require.Equal(t, "sess", args[2])
	require.Equal(t, "save_for_later", args[3])
	require.Contains(t, string(args[4].([]byte)), `"kind":"save_for_later"`)

	require.Error(t, s.Save(context.Background(), &cart.Cart{}))
}

func TestDeleteStaleGuestsReturnsRowsAffected(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("DELETE 3")}
	n, err := New(db).DeleteStaleGuests(context.Background(), time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Contains(t, db.execs[0].sql, "user_id = ''")
}

func TestInsertEventDefaultsPayload(t *testing.T) {
	db := &fakeDB{}
	err := New(db).InsertEvent(context.Background(), events.Event{ID: "e1", Topic: events.TopicCartCreated, AggregateID: "c1"})
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), db.execs[0].args[3])
}

func TestNilStoreUnavailable(t *testing.T) {
	var s *Store
	_, err := s.FindOwnerInstance(context.Background(), cart.UserOwner("u"), cart.KindCart)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, s.DeleteByID(context.Background(), "x"), ErrStoreUnavailable)
}

func TestMigrationURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db", MigrationURL("postgres://u:p@localhost:5432/db"))
	require.Equal(t, "pgx5://localhost/db", MigrationURL("postgresql://localhost/db"))
	require.Equal(t, "pgx5://already", MigrationURL("pgx5://already"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.Equal(t, ups, downs)
	require.GreaterOrEqual(t, ups, 2)
}
