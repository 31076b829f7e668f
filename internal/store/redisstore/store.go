// Package redisstore keeps cart documents as JSON strings in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/cartino/internal/cart"
)

// ErrStoreUnavailable indicates the Redis dependency is not configured.
var ErrStoreUnavailable = errors.New("redisstore: store unavailable")

const defaultPrefix = "cartino:"

// Store implements cart.Store and cart.Sweeper.
//
// Layout:
//
//	<prefix>doc:<id>                   document JSON
//	<prefix>owner:<owner key>:<kind>   id of the owner's document
//	<prefix>guests                     zset of guest document ids scored by updatedAt
type Store struct {
	R *redis.Client
	// GuestTTL expires guest documents and their index entries. Zero disables expiry.
	GuestTTL time.Duration
	Prefix   string
}

var (
	_ cart.Store   = (*Store)(nil)
	_ cart.Sweeper = (*Store)(nil)
)

func (s *Store) prefix() string {
	if s.Prefix == "" {
		return defaultPrefix
	}
	return s.Prefix
}

func (s *Store) docKey(id string) string { return s.prefix() + "doc:" + id }

func (s *Store) ownerKey(o cart.Owner, kind cart.Kind) string {
	return s.prefix() + "owner:" + o.Key() + ":" + string(kind)
}

func (s *Store) guestsKey() string { return s.prefix() + "guests" }

func (s *Store) ready() error {
	if s == nil || s.R == nil {
		return ErrStoreUnavailable
	}
	return nil
}

// FindOwnerInstance resolves the owner index and loads the document.
func (s *Store) FindOwnerInstance(ctx context.Context, owner cart.Owner, kind cart.Kind) (*cart.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	idx := s.ownerKey(owner, kind)
	id, err := s.R.Get(ctx, idx).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve owner index: %w", err)
	}
	doc, err := s.load(ctx, id)
	if errors.Is(err, cart.ErrNotFound) {
		// index outlived its document
		_ = s.R.Del(ctx, idx).Err()
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != kind || !owner.Matches(doc.Owner) {
		return nil, cart.ErrNotFound
	}
	return doc, nil
}

func (s *Store) load(ctx context.Context, id string) (*cart.Cart, error) {
	raw, err := s.R.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cart document: %w", err)
	}
	var doc cart.Cart
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode cart document: %w", err)
	}
	return &doc, nil
}

// Save writes the document and keeps the owner index and guest set in step.
// A document whose owner changed (a claimed guest cart) has its old index removed.
func (s *Store) Save(ctx context.Context, c *cart.Cart) error {
	if err := s.ready(); err != nil {
		return err
	}
	if c == nil || c.ID == "" {
		return errors.New("redisstore: document id required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart document: %w", err)
	}
	prev, err := s.load(ctx, c.ID)
	if err != nil && !errors.Is(err, cart.ErrNotFound) {
		return err
	}

	ttl := time.Duration(0)
	if c.IsGuest() {
		ttl = s.GuestTTL
	}
	idx := s.ownerKey(c.Owner, c.Kind)
	_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.docKey(c.ID), raw, ttl)
		p.SetNX(ctx, idx, c.ID, ttl)
		if ttl > 0 {
			p.Expire(ctx, idx, ttl)
		} else {
			p.Persist(ctx, idx)
		}
		if c.IsGuest() {
			p.ZAdd(ctx, s.guestsKey(), redis.Z{Score: float64(c.UpdatedAt.UnixNano()), Member: c.ID})
		} else {
			p.ZRem(ctx, s.guestsKey(), c.ID)
		}
		if prev != nil && (prev.Owner != c.Owner || prev.Kind != c.Kind) {
			p.Del(ctx, s.ownerKey(prev.Owner, prev.Kind))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cart document: %w", err)
	}
	return nil
}

// DeleteByID removes the document, its owner index and guest set entry.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	doc, err := s.load(ctx, id)
	if errors.Is(err, cart.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.docKey(id))
		p.Del(ctx, s.ownerKey(doc.Owner, doc.Kind))
		p.ZRem(ctx, s.guestsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cart document: %w", err)
	}
	return nil
}

// DeleteStaleGuests removes guest documents whose last update is before the cutoff.
func (s *Store) DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	ids, err := s.R.ZRangeByScore(ctx, s.guestsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale guests: %w", err)
	}
	var n int64
	for _, id := range ids {
		doc, err := s.load(ctx, id)
		if errors.Is(err, cart.ErrNotFound) {
			// expired through GuestTTL already
			_ = s.R.ZRem(ctx, s.guestsKey(), id).Err()
			continue
		}
		if err != nil {
			return n, err
		}
		if !doc.IsGuest() {
			continue
		}
		if err := s.DeleteByID(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
