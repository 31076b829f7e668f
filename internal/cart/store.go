package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/cartino/internal/events"
)

// Store persists cart documents.
type Store interface {
	// FindOwnerInstance returns the owner's document of the given kind or ErrNotFound.
	FindOwnerInstance(ctx context.Context, owner Owner, kind Kind) (*Cart, error)
	// Save upserts the document by ID.
	Save(ctx context.Context, c *Cart) error
	// DeleteByID removes the document. Deleting a missing document is not an error.
	DeleteByID(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that can purge abandoned guest documents.
type Sweeper interface {
	DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error)
}

// Locker serializes work under a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID string, payload any) (events.Event, error)
}

// MemoryStore keeps documents in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Cart
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Cart)}
}

// FindOwnerInstance implements Store.
func (m *MemoryStore) FindOwnerInstance(_ context.Context, owner Owner, kind Kind) (*Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Cart
	for _, doc := range m.docs {
		if doc.Kind != kind || !owner.Matches(doc.Owner) {
			continue
		}
		if found == nil || doc.CreatedAt.Before(found.CreatedAt) {
			found = doc
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, c *Cart) error {
	if c == nil || c.ID == "" {
		return errors.New("cart: document id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[c.ID] = c.Clone()
	return nil
}

// DeleteByID implements Store.
func (m *MemoryStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// DeleteStaleGuests implements Sweeper.
func (m *MemoryStore) DeleteStaleGuests(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, doc := range m.docs {
		if doc.IsGuest() && doc.UpdatedAt.Before(before) {
			delete(m.docs, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every document ordered by creation time.
func (m *MemoryStore) All() []*Cart {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Cart, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
