package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

const maxSlugAttempts = 3

type storeRepository interface {
	Create(ctx context.Context, store *models.Store) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]models.Store, error)
	ListAll(ctx context.Context) ([]models.Store, error)
	Update(ctx context.Context, store *models.Store) error
	Delete(ctx context.Context, id uuid.UUID) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// Actor is the authenticated caller as seen by access checks.
type Actor struct {
	UserID string
	Role   enums.ActorRole
}

// Service exposes tenant management and the store access rule.
type Service interface {
	Create(ctx context.Context, ownerUserID string, input CreateStoreInput) (*StoreDTO, error)
	Get(ctx context.Context, storeID uuid.UUID) (*StoreDTO, error)
	ListForUser(ctx context.Context, actor Actor) ([]StoreDTO, error)
	Update(ctx context.Context, storeID uuid.UUID, input UpdateStoreInput) (*StoreDTO, error)
	Delete(ctx context.Context, actor Actor, storeID uuid.UUID) error
	EnsureAccess(ctx context.Context, actor Actor, storeID uuid.UUID) (*models.Store, error)
}

type service struct {
	repo storeRepository
}

func NewService(repo storeRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, ownerUserID string, input CreateStoreInput) (*StoreDTO, error) {
	if strings.TrimSpace(ownerUserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	explicit := input.Slug != nil && strings.TrimSpace(*input.Slug) != ""
	base := Slugify(name)
	if explicit {
		base = Slugify(*input.Slug)
	}
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug must contain letters or digits")
	}

	store := &models.Store{
		OwnerUserID: ownerUserID,
		Name:        name,
		Description: input.Description,
		Currency:    currency,
	}
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		store.Slug = base
		if attempt > 0 {
			store.Slug = fmt.Sprintf("%s-%s", base, uuid.NewString()[:6])
		}
		taken, err := s.repo.SlugExists(ctx, store.Slug)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check slug")
		}
		if taken {
			if explicit {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "slug already in use").WithDetails(map[string]any{"slug": store.Slug})
			}
			continue
		}
		err = s.repo.Create(ctx, store)
		if err == nil {
			return FromModel(store), nil
		}
		if !dbpkg.IsUniqueViolation(err, "uq_stores_slug") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create store")
		}
		if explicit {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "slug already in use")
		}
		store.ID = uuid.Nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique slug")
}

func (s *service) Get(ctx context.Context, storeID uuid.UUID) (*StoreDTO, error) {
	store, err := s.load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return FromModel(store), nil
}

func (s *service) ListForUser(ctx context.Context, actor Actor) ([]StoreDTO, error) {
	var (
		rows []models.Store
		err  error
	)
	if actor.Role.IsAdmin() {
		rows, err = s.repo.ListAll(ctx)
	} else {
		rows, err = s.repo.ListByOwner(ctx, actor.UserID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores")
	}
	out := make([]StoreDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func (s *service) Update(ctx context.Context, storeID uuid.UUID, input UpdateStoreInput) (*StoreDTO, error) {
	store, err := s.load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		store.Name = name
	}
	if input.Description != nil {
		store.Description = input.Description
	}
	if input.Currency != nil {
		store.Currency = strings.ToLower(strings.TrimSpace(*input.Currency))
	}
	if input.TrialDays != nil {
		if *input.TrialDays < 0 || *input.TrialDays > 730 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial_days must be between 0 and 730")
		}
		store.TrialDays = *input.TrialDays
	}
	if input.SubscriptionPriceID != nil {
		price := strings.TrimSpace(*input.SubscriptionPriceID)
		if price == "" {
			store.SubscriptionPriceID = nil
		} else {
			store.SubscriptionPriceID = &price
		}
	}
	if err := s.repo.Update(ctx, store); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update store")
	}
	return FromModel(store), nil
}

func (s *service) Delete(ctx context.Context, actor Actor, storeID uuid.UUID) error {
	store, err := s.load(ctx, storeID)
	if err != nil {
		return err
	}
	if store.OwnerUserID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the owner can delete a store")
	}
	if err := s.repo.Delete(ctx, storeID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete store")
	}
	return nil
}

// EnsureAccess returns the store when actor owns it or is a platform admin.
func (s *service) EnsureAccess(ctx context.Context, actor Actor, storeID uuid.UUID) (*models.Store, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	store, err := s.load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsAdmin() || store.OwnerUserID == actor.UserID {
		return store, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store access denied")
}

func (s *service) load(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	store, err := s.repo.FindByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return store, nil
}
