package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

// Service applies verified Stripe events to local state.
type Service interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type checkoutFlow interface {
	CompleteSession(ctx context.Context, tx *gorm.DB, completed checkout.CompletedSession) (*models.CheckoutSession, error)
	ExpireSession(ctx context.Context, tx *gorm.DB, stripeSessionID string) (*models.CheckoutSession, error)
}

type orderRefunder interface {
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error)
}

type subscriptionSyncer interface {
	SyncFromStripe(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription) (*models.Subscription, error)
}

type downloadRevoker interface {
	RevokeDownloads(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

type subscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

type ServiceParams struct {
	Checkout      checkoutFlow
	Orders        *orders.Repository
	OrderFlow     orderRefunder
	Products      *products.Repository
	Subscriptions subscriptionSyncer
	Downloads     downloadRevoker
	Gateway       subscriptionFetcher
	Tx            dbpkg.TxRunner
	Logger        *logger.Logger
}

type service struct {
	checkout      checkoutFlow
	orders        *orders.Repository
	orderFlow     orderRefunder
	products      *products.Repository
	subscriptions subscriptionSyncer
	downloads     downloadRevoker
	gateway       subscriptionFetcher
	tx            dbpkg.TxRunner
	logg          *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Checkout == nil:
		return nil, errors.New("checkout service required")
	case params.Orders == nil || params.OrderFlow == nil:
		return nil, errors.New("orders dependencies required")
	case params.Products == nil:
		return nil, errors.New("products repository required")
	case params.Subscriptions == nil:
		return nil, errors.New("subscriptions service required")
	case params.Downloads == nil:
		return nil, errors.New("downloads service required")
	case params.Gateway == nil:
		return nil, errors.New("stripe gateway required")
	case params.Tx == nil:
		return nil, errors.New("transaction runner required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &service{
		checkout:      params.Checkout,
		orders:        params.Orders,
		orderFlow:     params.OrderFlow,
		products:      params.Products,
		subscriptions: params.Subscriptions,
		downloads:     params.Downloads,
		gateway:       params.Gateway,
		tx:            params.Tx,
		logg:          params.Logger,
	}, nil
}

// HandleEvent dispatches on event type. Types we do not subscribe to are
// accepted and ignored.
func (s *service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.handleSessionCompleted(ctx, event)
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return s.handleSessionExpired(ctx, event)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionEvent(ctx, event)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoiceEvent(ctx, event)
	case stripe.EventTypeChargeRefunded:
		return s.handleChargeRefunded(ctx, event)
	default:
		s.logg.Debug(ctx, "stripe event ignored")
		return nil
	}
}

func (s *service) handleSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return err
	}
	// Delayed payment methods complete the session before the money moves;
	// the async_payment_succeeded event follows.
	if session.Mode == stripe.CheckoutSessionModePayment && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		s.logg.Info(s.logg.WithField(ctx, "stripe_session_id", session.ID), "checkout session awaiting payment")
		return nil
	}

	var remote *stripe.Subscription
	if session.Mode == stripe.CheckoutSessionModeSubscription && session.Subscription != nil && session.Subscription.ID != "" {
		sub, err := s.gateway.GetSubscription(ctx, session.Subscription.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		remote = sub
	}

	completed := checkout.CompletedSession{StripeSessionID: session.ID}
	if session.PaymentIntent != nil {
		completed.PaymentIntentID = session.PaymentIntent.ID
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.checkout.CompleteSession(ctx, tx, completed); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.logg.Warn(s.logg.WithField(ctx, "stripe_session_id", session.ID), "completed session is not ours")
				return nil
			}
			return err
		}
		if remote == nil {
			return nil
		}
		return s.sync(ctx, tx, remote)
	})
}

func (s *service) handleSessionExpired(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.checkout.ExpireSession(ctx, tx, session.ID)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "stripe_session_id", session.ID), "expired session is not ours")
			return nil
		}
		return err
	})
}

func (s *service) handleSubscriptionEvent(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.sync(ctx, tx, &sub)
	})
}

// handleInvoiceEvent refetches the subscription so the mirror reflects the
// status Stripe settled on after the invoice, not the invoice itself.
func (s *service) handleInvoiceEvent(ctx context.Context, event *stripe.Event) error {
	subID := event.GetObjectValue("subscription")
	if subID == "" {
		subID = event.GetObjectValue("parent", "subscription_details", "subscription")
	}
	if subID == "" {
		s.logg.Debug(ctx, "invoice without subscription ignored")
		return nil
	}
	remote, err := s.gateway.GetSubscription(ctx, subID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.sync(ctx, tx, remote)
	})
}

func (s *service) sync(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription) error {
	_, err := s.subscriptions.SyncFromStripe(ctx, tx, sub)
	if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		// Subscriptions created outside shopdeck carry no owner metadata.
		s.logg.Warn(s.logg.WithField(ctx, "stripe_subscription_id", sub.ID), "subscription not owned by a store user")
		return nil
	}
	return err
}

// handleChargeRefunded refunds the order on a full refund, puts physical
// stock back and revokes download access. Partial refunds only get logged.
func (s *service) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := decodeObject(event, &charge); err != nil {
		return err
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		s.logg.Debug(ctx, "refunded charge has no payment intent")
		return nil
	}
	ctx = s.logg.WithField(ctx, "payment_intent_id", charge.PaymentIntent.ID)
	if !charge.Refunded {
		s.logg.Info(s.logg.WithField(ctx, "amount_refunded", charge.AmountRefunded), "partial refund recorded by stripe only")
		return nil
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindByPaymentIntent(ctx, charge.PaymentIntent.ID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				s.logg.Warn(ctx, "refunded charge matches no order")
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refunded order")
		}
		refunded, changed, err := s.orderFlow.MarkRefunded(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		productRepo := s.products.WithTx(tx)
		for _, item := range refunded.Items {
			if item.IsDigital {
				continue
			}
			if err := productRepo.ReleaseStock(ctx, item.ProductID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release stock")
			}
		}
		revoked, err := s.downloads.RevokeDownloads(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_id":          order.ID.String(),
			"downloads_revoked": revoked,
		}), "order refunded")
		return nil
	})
}

func decodeObject(event *stripe.Event, out any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event has no data")
	}
	if err := json.Unmarshal(event.Data.Raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", event.Type))
	}
	return nil
}
