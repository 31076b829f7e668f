// Package postgres stores cart documents as JSONB rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/cartino/internal/cart"
	"github.com/noah-isme/cartino/internal/events"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("postgres: store unavailable")

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements cart.Store, cart.Sweeper and events.EventStore.
type Store struct {
	db DB
}

var (
	_ cart.Store        = (*Store)(nil)
	_ cart.Sweeper      = (*Store)(nil)
	_ events.EventStore = (*Store)(nil)
)

// New returns a store backed by db, usually a *pgxpool.Pool.
func New(db DB) *Store {
	return &Store{db: db}
}

const findUserSQL = `SELECT document FROM cart_documents
WHERE user_id = $1 AND kind = $2
ORDER BY created_at ASC LIMIT 1`

const findGuestSQL = `SELECT document FROM cart_documents
WHERE user_id = '' AND session_id = $1 AND kind = $2
ORDER BY created_at ASC LIMIT 1`

// FindOwnerInstance returns the oldest document of kind for owner.
func (s *Store) FindOwnerInstance(ctx context.Context, owner cart.Owner, kind cart.Kind) (*cart.Cart, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	query, key := findGuestSQL, owner.SessionID
	if !owner.IsGuest() {
		query, key = findUserSQL, owner.UserID
	}
	var raw []byte
	if err := s.db.QueryRow(ctx, query, key, string(kind)).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("find cart document: %w", err)
	}
	var doc cart.Cart
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode cart document: %w", err)
	}
	return &doc, nil
}

const upsertSQL = `INSERT INTO cart_documents (id, user_id, session_id, kind, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    session_id = EXCLUDED.session_id,
    kind = EXCLUDED.kind,
    document = EXCLUDED.document,
    updated_at = EXCLUDED.updated_at`

// Save upserts the document by id.
func (s *Store) Save(ctx context.Context, c *cart.Cart) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if c == nil || c.ID == "" {
		return errors.New("postgres: document id required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart document: %w", err)
	}
	_, err = s.db.Exec(ctx, upsertSQL, c.ID, c.UserID, c.SessionID, string(c.Kind), raw, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cart document: %w", err)
	}
	return nil
}

// DeleteByID removes a document. Missing ids are not an error.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete cart document: %w", err)
	}
	return nil
}

// DeleteStaleGuests removes guest documents last updated before the cutoff.
func (s *Store) DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM cart_documents WHERE user_id = '' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale guests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertEvent appends an emitted domain event to the outbox table.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO cart_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
