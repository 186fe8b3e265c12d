package categories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

const maxNameLen = 120

// Service manages the category list of a store.
type Service interface {
	Create(ctx context.Context, storeID uuid.UUID, name string) (*CategoryDTO, error)
	Get(ctx context.Context, storeID, categoryID uuid.UUID) (*CategoryDTO, error)
	List(ctx context.Context, storeID uuid.UUID) ([]CategoryDTO, error)
	Rename(ctx context.Context, storeID, categoryID uuid.UUID, name string) (*CategoryDTO, error)
	Delete(ctx context.Context, storeID, categoryID uuid.UUID) error
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("category repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, storeID uuid.UUID, name string) (*CategoryDTO, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	category := &models.Category{StoreID: storeID, Name: name}
	if err := s.repo.Create(ctx, category); err != nil {
		return nil, mapWriteError(err, name)
	}
	return FromModel(category), nil
}

func (s *service) Get(ctx context.Context, storeID, categoryID uuid.UUID) (*CategoryDTO, error) {
	category, err := s.load(ctx, storeID, categoryID)
	if err != nil {
		return nil, err
	}
	return FromModel(category), nil
}

func (s *service) List(ctx context.Context, storeID uuid.UUID) ([]CategoryDTO, error) {
	rows, err := s.repo.List(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	out := make([]CategoryDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func (s *service) Rename(ctx context.Context, storeID, categoryID uuid.UUID, name string) (*CategoryDTO, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	category, err := s.load(ctx, storeID, categoryID)
	if err != nil {
		return nil, err
	}
	category.Name = name
	if err := s.repo.Save(ctx, category); err != nil {
		return nil, mapWriteError(err, name)
	}
	return FromModel(category), nil
}

func (s *service) Delete(ctx context.Context, storeID, categoryID uuid.UUID) error {
	if _, err := s.load(ctx, storeID, categoryID); err != nil {
		return err
	}
	inUse, err := s.repo.CountProducts(ctx, storeID, categoryID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count category products")
	}
	if inUse > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "category still has products").
			WithDetails(map[string]any{"product_count": inUse})
	}
	if err := s.repo.Delete(ctx, storeID, categoryID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete category")
	}
	return nil
}

func (s *service) load(ctx context.Context, storeID, categoryID uuid.UUID) (*models.Category, error) {
	category, err := s.repo.FindByID(ctx, storeID, categoryID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "category not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category")
	}
	return category, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if len(name) > maxNameLen {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "name must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func mapWriteError(err error, name string) error {
	if dbpkg.IsUniqueViolation(err, "uq_categories_store_name") {
		return pkgerrors.New(pkgerrors.CodeConflict, "category name already exists").
			WithDetails(map[string]any{"name": name})
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save category")
}
