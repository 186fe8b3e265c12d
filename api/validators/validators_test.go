package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

type sampleBody struct {
	Name  string `json:"name" validate:"required,max=10"`
	Price int64  `json:"price_cents" validate:"gte=0"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","price_cents":-1}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["name"])
	assert.Equal(t, "must be greater than or equal to 0", details["price_cents"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok","extra":true}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30&bad=x", nil)

	v, err := ParseQueryInt(req, "limit", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 30, v)

	v, err = ParseQueryInt(req, "missing", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = ParseQueryInt(req, "bad", 10, 1, 100)
	assert.Error(t, err)

	_, err = ParseQueryInt(req, "limit", 10, 1, 20)
	assert.Error(t, err)
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("productId", id.String())
	rc.URLParams.Add("bad", "123")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "productId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseUUIDParam(req, "absent")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?featured=true&archived=maybe", nil)

	v, err := ParseQueryBool(req, "featured")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, *v)

	v, err = ParseQueryBool(req, "absent")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseQueryBool(req, "archived")
	assert.Error(t, err)
}
