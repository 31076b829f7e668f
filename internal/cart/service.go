package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/cartino/internal/events"
	"github.com/noah-isme/cartino/internal/lock"
	"github.com/noah-isme/cartino/internal/obs"
)

// ServiceConfig wires the collaborators of a Service.
type ServiceConfig struct {
	Store   Store
	Locker  Locker
	LockTTL time.Duration
	Events  Emitter
	Logger  zerolog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Service orchestrates cart, wishlist and save-for-later documents.
type Service struct {
	store   Store
	locker  Locker
	lockTTL time.Duration
	events  Emitter
	log     zerolog.Logger
	clock   func() time.Time
	newID   func() string
}

// NewService validates cfg and returns a ready service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("cart: store not configured")
	}
	return &Service{
		store:   cfg.Store,
		locker:  cfg.Locker,
		lockTTL: cfg.LockTTL,
		events:  cfg.Events,
		log:     cfg.Logger,
		clock:   cfg.Now,
		newID:   cfg.NewID,
	}, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.lockTTL <= 0 {
		return 10 * time.Second
	}
	return s.lockTTL
}

func (s *Service) id() string {
	if s != nil && s.newID != nil {
		return s.newID()
	}
	return uuid.NewString()
}

// Owner returns a handle scoped to the owner's document of the given kind.
func (s *Service) Owner(owner Owner, kind Kind) *Handle {
	return &Handle{svc: s, owner: owner, kind: kind}
}

// User is shorthand for Owner(UserOwner(userID), kind).
func (s *Service) User(userID string, kind Kind) *Handle {
	return s.Owner(UserOwner(userID), kind)
}

// Guest is shorthand for Owner(GuestOwner(sessionID), kind).
func (s *Service) Guest(sessionID string, kind Kind) *Handle {
	return s.Owner(GuestOwner(sessionID), kind)
}

// mutation describes a single read-modify-write.
type mutation struct {
	op     string
	topic  string
	itemID string
	create bool
	detail map[string]any
}

func (s *Service) load(ctx context.Context, owner Owner, kind Kind) (*Cart, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("cart service not configured")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, ErrInvalidInput)
	}
	c, err := s.store.FindOwnerInstance(ctx, owner, kind)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(string(kind))
		}
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	return c, nil
}

// withOwnerLock serializes fn with every other mutation of the same owner.
func (s *Service) withOwnerLock(ctx context.Context, owner Owner, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, lock.Key(owner.Key()), s.ttl(), fn)
}

// mutate runs fn under the owner lock and persists the result.
func (s *Service) mutate(ctx context.Context, owner Owner, kind Kind, m mutation, fn func(*Cart) error) (*Cart, error) {
	ctx, span := otel.Tracer("cart.Service").Start(ctx, "CartService."+m.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.kind", string(kind)),
		attribute.String("cart.op", m.op),
		attribute.Bool("cart.guest", owner.IsGuest()),
	)

	start := time.Now()
	var out *Cart
	err := s.withOwnerLock(ctx, owner, func(ctx context.Context) error {
		c, err := s.apply(ctx, owner, kind, m, fn)
		out = c
		return err
	})

	result := "ok"
	if err != nil {
		result = resultLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues(string(kind), m.op, result).Inc()
	}
	if obs.CartMutationLatency != nil {
		obs.CartMutationLatency.WithLabelValues(m.op).Observe(obs.DurationMillis(time.Since(start)))
	}
	return out, err
}

// apply is mutate without locking, for callers that already hold the owner lock.
func (s *Service) apply(ctx context.Context, owner Owner, kind Kind, m mutation, fn func(*Cart) error) (*Cart, error) {
	c, err := s.load(ctx, owner, kind)
	created := false
	if err != nil {
		if !m.create || !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		now := s.now()
		c = &Cart{ID: s.id(), Owner: owner, Kind: kind, Items: []Item{}, CreatedAt: now}
		created = true
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()
	if err := s.store.Save(ctx, c); err != nil {
		s.log.Error().Err(err).
			Str("owner", owner.Key()).
			Str("kind", string(kind)).
			Str("op", m.op).
			Msg("cart save failed")
		return nil, fmt.Errorf("save %s: %w", kind, err)
	}
	if created {
		s.emit(ctx, events.TopicCartCreated, c, mutation{op: m.op})
	}
	if m.topic != "" {
		s.emit(ctx, m.topic, c, m)
	}
	return c, nil
}

func (s *Service) emit(ctx context.Context, topic string, c *Cart, m mutation) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"cartId": c.ID,
		"kind":   c.Kind,
		"op":     m.op,
	}
	if c.UserID != "" {
		payload["userId"] = c.UserID
	}
	if c.SessionID != "" {
		payload["sessionId"] = c.SessionID
	}
	if m.itemID != "" {
		payload["itemId"] = m.itemID
	}
	for k, v := range m.detail {
		payload[k] = v
	}
	if _, err := s.events.Emit(ctx, topic, c.ID, payload); err != nil {
		s.log.Warn().Err(err).
			Str("topic", topic).
			Str("cart_id", c.ID).
			Msg("cart event emission failed")
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrDuplicateModifier):
		return "duplicate"
	case errors.Is(err, ErrInvalidOperation):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Merge folds the guest session's documents into the user's, kind by kind.
// When the user has no document of a kind the guest document is claimed in
// place; otherwise lines are matched by item id, quantities summed, unmatched
// lines appended and the guest document deleted. The returned map holds the
// user's resulting document per kind that had a guest or user document.
func (s *Service) Merge(ctx context.Context, sessionID, userID string) (map[Kind]*Cart, error) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id required: %w", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("user id required: %w", ErrInvalidInput)
	}
	ctx, span := otel.Tracer("cart.Service").Start(ctx, "CartService.Merge")
	defer span.End()

	guest, user := GuestOwner(sessionID), UserOwner(userID)
	out := make(map[Kind]*Cart, len(Kinds()))
	err := s.withOwnerLock(ctx, user, func(ctx context.Context) error {
		return s.withOwnerLock(ctx, guest, func(ctx context.Context) error {
			for _, kind := range Kinds() {
				merged, err := s.mergeKind(ctx, guest, user, kind)
				if err != nil {
					return err
				}
				if merged != nil {
					out[kind] = merged
				}
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Service) mergeKind(ctx context.Context, guest, user Owner, kind Kind) (*Cart, error) {
	guestCart, err := s.load(ctx, guest, kind)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	userCart, err := s.load(ctx, user, kind)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if guestCart == nil {
		return userCart, nil
	}

	if userCart == nil {
		guestCart.Owner = user
		guestCart.UpdatedAt = s.now()
		if err := s.store.Save(ctx, guestCart); err != nil {
			return nil, fmt.Errorf("claim guest %s: %w", kind, err)
		}
		s.emit(ctx, events.TopicCartMerged, guestCart, mutation{op: "merge", detail: map[string]any{"claimed": true}})
		return guestCart, nil
	}

	for _, gItem := range guestCart.Items {
		if i := userCart.IndexOf(gItem.ItemID); i >= 0 {
			userCart.Items[i].Quantity += gItem.Quantity
			continue
		}
		userCart.Items = append(userCart.Items, gItem.Clone())
	}
	userCart.UpdatedAt = s.now()
	if err := s.store.Save(ctx, userCart); err != nil {
		return nil, fmt.Errorf("save merged %s: %w", kind, err)
	}
	if err := s.store.DeleteByID(ctx, guestCart.ID); err != nil {
		s.log.Error().Err(err).Str("cart_id", guestCart.ID).Msg("delete merged guest cart failed")
		return nil, fmt.Errorf("delete guest %s: %w", kind, err)
	}
	s.emit(ctx, events.TopicCartMerged, userCart, mutation{op: "merge", detail: map[string]any{
		"guestCartId": guestCart.ID,
		"mergedItems": len(guestCart.Items),
	}})
	return userCart, nil
}

// PurgeGuests removes guest documents that have not been touched since before.
// It returns zero when the store cannot sweep.
func (s *Service) PurgeGuests(ctx context.Context, before time.Time) (int64, error) {
	sweeper, ok := s.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sweeper.DeleteStaleGuests(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge guests: %w", err)
	}
	if obs.GuestCartsPurgedTotal != nil {
		obs.GuestCartsPurgedTotal.Add(float64(n))
	}
	if n > 0 && s.events != nil {
		if _, err := s.events.Emit(ctx, events.TopicGuestCartsPurged, "retention", map[string]any{
			"deleted": n,
			"before":  before,
		}); err != nil {
			s.log.Warn().Err(err).Msg("guest purge event emission failed")
		}
	}
	return n, nil
}
