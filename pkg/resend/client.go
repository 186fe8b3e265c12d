// Package resend sends transactional email through the Resend REST API.
package resend

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

var ErrAPIKeyRequired = errors.New("resend api key is required")

// Message is one outgoing email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// APIError is a non-2xx answer from Resend.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("resend %d %s: %s", e.Status, e.Name, e.Message)
}

// Client is a thin resty wrapper; 5xx and transport errors are retried.
type Client struct {
	http        *resty.Client
	defaultFrom string
}

func NewClient(cfg config.EmailConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: httpClient, defaultFrom: cfg.DefaultFrom}, nil
}

// Send delivers msg and returns the Resend message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", errors.New("recipient is required")
	}
	if msg.From == "" {
		msg.From = c.defaultFrom
	}
	var out sendResponse
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&out).
		SetError(&failure).
		Post("/emails")
	if err != nil {
		return "", fmt.Errorf("resend request: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{Status: resp.StatusCode(), Name: failure.Name, Message: failure.Message}
	}
	return out.ID, nil
}
