// Package customers resolves auth-provider profiles for a store's buyers.
package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/shopdeck-backend/pkg/identity"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

const (
	defaultConcurrency = 5
	defaultCacheTTL    = 5 * time.Minute
	maxCustomers       = 100
)

type Service interface {
	LookupUsers(ctx context.Context, ids []string) ([]identity.User, error)
	ListStoreCustomers(ctx context.Context, storeID uuid.UUID) ([]identity.User, error)
}

type userSource interface {
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

type buyerLister interface {
	CustomerUserIDs(ctx context.Context, storeID uuid.UUID, limit int) ([]string, error)
}

type cache interface {
	redis.KV
	CacheKey(parts ...string) string
}

type Options struct {
	Concurrency int
	CacheTTL    time.Duration
}

type service struct {
	users  userSource
	buyers buyerLister
	cache  cache
	logg   *logger.Logger
	limit  int
	ttl    time.Duration
}

// NewService wires the lookup. cache may be nil, in which case every call
// goes to the provider.
func NewService(users userSource, buyers buyerLister, c cache, logg *logger.Logger, opts Options) (Service, error) {
	if users == nil {
		return nil, fmt.Errorf("identity client required")
	}
	if buyers == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &service{users: users, buyers: buyers, cache: c, logg: logg, limit: opts.Concurrency, ttl: opts.CacheTTL}, nil
}

// LookupUsers fetches profiles in parallel, at most limit at a time. Unknown
// ids are dropped; the result keeps the order of ids.
func (s *service) LookupUsers(ctx context.Context, ids []string) ([]identity.User, error) {
	unique := dedupe(ids)
	found := make([]*identity.User, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, id := range unique {
		g.Go(func() error {
			user, err := s.lookup(gctx, id)
			if err != nil {
				if errors.Is(err, identity.ErrUserNotFound) {
					return nil
				}
				return err
			}
			found[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]identity.User, 0, len(found))
	for _, u := range found {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *service) lookup(ctx context.Context, id string) (*identity.User, error) {
	if cached := s.cached(ctx, id); cached != nil {
		return cached, nil
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, user)
	return user, nil
}

func (s *service) cached(ctx context.Context, id string) *identity.User {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.cache.CacheKey("user", id))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "user cache read failed")
		}
		return nil
	}
	var user identity.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil
	}
	return &user
}

func (s *service) store(ctx context.Context, user *identity.User) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.CacheKey("user", user.ID), raw, s.ttl); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "user cache write failed")
	}
}

// ListStoreCustomers resolves the most recent signed-in buyers of a store.
func (s *service) ListStoreCustomers(ctx context.Context, storeID uuid.UUID) ([]identity.User, error) {
	ids, err := s.buyers.CustomerUserIDs(ctx, storeID, maxCustomers)
	if err != nil {
		return nil, err
	}
	return s.LookupUsers(ctx, ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
