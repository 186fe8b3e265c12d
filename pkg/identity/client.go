// Package identity reads user profiles from the auth provider's backend API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
)

var (
	ErrSecretKeyRequired = errors.New("identity secret key is required")
	// ErrUserNotFound is returned for ids the provider does not know.
	ErrUserNotFound = errors.New("identity user not found")
)

// User is the profile subset the dashboard renders.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	ImageURL  string `json:"image_url,omitempty"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userResponse struct {
	ID                    string         `json:"id"`
	FirstName             *string        `json:"first_name"`
	LastName              *string        `json:"last_name"`
	ImageURL              string         `json:"image_url"`
	PrimaryEmailAddressID *string        `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
}

func (r userResponse) toUser() User {
	u := User{ID: r.ID, ImageURL: r.ImageURL}
	if r.FirstName != nil {
		u.FirstName = *r.FirstName
	}
	if r.LastName != nil {
		u.LastName = *r.LastName
	}
	for _, addr := range r.EmailAddresses {
		if u.Email == "" || (r.PrimaryEmailAddressID != nil && addr.ID == *r.PrimaryEmailAddressID) {
			u.Email = addr.EmailAddress
		}
	}
	return u
}

type Client struct {
	http *resty.Client
}

func NewClient(cfg config.IdentityConfig) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrSecretKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(cfg.SecretKey).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: httpClient}, nil
}

// GetUser fetches one profile.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var out userResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/users/{id}")
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("identity get user %s: status %d", id, resp.StatusCode())
	}
	user := out.toUser()
	return &user, nil
}
