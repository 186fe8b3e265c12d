package categories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

func TestCategoryLifecycle(t *testing.T) {
	conn := dbtest.Open(t, &models.Category{}, &models.Product{})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	ctx := context.Background()
	storeID := uuid.New()

	mugs, err := svc.Create(ctx, storeID, "  Mugs ")
	require.NoError(t, err)
	assert.Equal(t, "Mugs", mugs.Name)

	_, err = svc.Create(ctx, storeID, "Mugs")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "duplicate name: %v", err)

	_, err = svc.Create(ctx, uuid.New(), "Mugs")
	require.NoError(t, err, "names are unique per store only")

	_, err = svc.Create(ctx, storeID, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	bowls, err := svc.Create(ctx, storeID, "Bowls")
	require.NoError(t, err)
	list, err := svc.List(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bowls", list[0].Name)

	_, err = svc.Rename(ctx, storeID, bowls.ID, "Mugs")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	renamed, err := svc.Rename(ctx, storeID, bowls.ID, "Plates")
	require.NoError(t, err)
	assert.Equal(t, "Plates", renamed.Name)

	_, err = svc.Get(ctx, uuid.New(), mugs.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "other store cannot see category")
}

func TestDeleteRefusesWhenProductsReferenceCategory(t *testing.T) {
	conn := dbtest.Open(t, &models.Category{}, &models.Product{})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	ctx := context.Background()
	storeID := uuid.New()

	cat, err := svc.Create(ctx, storeID, "Prints")
	require.NoError(t, err)
	require.NoError(t, conn.Create(&models.Product{StoreID: storeID, CategoryID: &cat.ID, Name: "Poster", PriceCents: 1200}).Error)

	err = svc.Delete(ctx, storeID, cat.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	require.NoError(t, conn.Where("store_id = ?", storeID).Delete(&models.Product{}).Error)
	require.NoError(t, svc.Delete(ctx, storeID, cat.ID))
	err = svc.Delete(ctx, storeID, cat.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
