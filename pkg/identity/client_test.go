package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
)

func TestGetUserPicksPrimaryEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/users/user_1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id":"user_1","first_name":"Ada","last_name":null,"image_url":"https://img/1",
				"primary_email_address_id":"idn_2",
				"email_addresses":[{"id":"idn_1","email_address":"old@example.com"},{"id":"idn_2","email_address":"ada@example.com"}]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(config.IdentityConfig{SecretKey: "sk_test", BaseURL: srv.URL})
	require.NoError(t, err)

	user, err := client.GetUser(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "", user.LastName)
	assert.Equal(t, "ada@example.com", user.Email)

	_, err = client.GetUser(context.Background(), "user_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNewClientRequiresSecret(t *testing.T) {
	_, err := NewClient(config.IdentityConfig{})
	assert.ErrorIs(t, err, ErrSecretKeyRequired)
}
