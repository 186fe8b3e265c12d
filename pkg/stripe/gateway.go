package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/shopdeck-backend/pkg/retry"
)

// Gateway is the slice of Stripe the checkout, subscription and webhook code
// calls. Services depend on it so tests can swap in a fake.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams, idempotencyKey string) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error)
}

// EventVerifier turns a signed webhook payload into an event.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// RetryObserver is told about every retried call.
type RetryObserver func(operation string)

type gateway struct {
	client    *Client
	baseDelay time.Duration
	onRetry   RetryObserver
}

// NewGateway wraps client with fixed-count exponential retries on
// rate-limit, conflict and server errors.
func NewGateway(client *Client, onRetry RetryObserver) Gateway {
	if client == nil {
		return nil
	}
	return &gateway{client: client, baseDelay: 200 * time.Millisecond, onRetry: onRetry}
}

func (g *gateway) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, retry.Policy{
		Attempts:  g.client.MaxRetries(),
		BaseDelay: g.baseDelay,
		Strategy:  retry.Exponential,
		Retryable: IsRetryable,
		OnRetry: func(int, error) {
			if g.onRetry != nil {
				g.onRetry(operation)
			}
		},
	}, fn)
}

func (g *gateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams, idempotencyKey string) (*stripe.CheckoutSession, error) {
	var out *stripe.CheckoutSession
	err := g.do(ctx, "checkout_session_create", func(ctx context.Context) error {
		params.Context = ctx
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}
		s, err := session.New(params)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (g *gateway) ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	var out *stripe.CheckoutSession
	err := g.do(ctx, "checkout_session_expire", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionExpireParams{}
		params.Context = ctx
		s, err := session.Expire(id, params)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (g *gateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	var out *stripe.Subscription
	err := g.do(ctx, "subscription_get", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		s, err := subscription.Get(id, params)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (g *gateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error) {
	var out *stripe.Subscription
	err := g.do(ctx, "subscription_cancel_at_period_end", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		s, err := subscription.Update(id, params)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// ConstructEvent verifies the Stripe-Signature header against the signing
// secret. API version drift between the account and the SDK is tolerated.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// IsRetryable reports whether a Stripe error is transient.
func IsRetryable(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode == http.StatusConflict,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return true
	}
	return stripeErr.Type == stripe.ErrorTypeAPI
}
