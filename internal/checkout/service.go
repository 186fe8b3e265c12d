package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	pkgcheckout "github.com/angelmondragon/shopdeck-backend/pkg/checkout"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/shopdeck-backend/pkg/stripe"
)

const (
	uniqueSessionKey = "uq_checkout_sessions_store_key"
	// staleSessionAge covers sessions that never received a Stripe expiry.
	staleSessionAge = 24 * time.Hour
	expireBatchSize = 100
)

// Service runs idempotent one-off checkouts and reacts to their Stripe
// outcomes.
type Service interface {
	CreateCheckoutSession(ctx context.Context, input CreateCheckoutInput) (*Result, error)
	GetCheckoutSession(ctx context.Context, storeID, sessionID uuid.UUID, viewerUserID string) (*SessionDTO, error)
	CompleteSession(ctx context.Context, tx *gorm.DB, completed CompletedSession) (*models.CheckoutSession, error)
	ExpireSession(ctx context.Context, tx *gorm.DB, stripeSessionID string) (*models.CheckoutSession, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type storeFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Repo      *Repository
	Orders    *orders.Repository
	OrderFlow orders.Service
	Products  *products.Repository
	Stores    storeFinder
	Gateway   pkgstripe.Gateway
	Tx        dbpkg.TxRunner
	PublicURL string
	// SuccessPath and CancelPath are joined to PublicURL for the Stripe redirects.
	SuccessPath string
	CancelPath  string
	Logger      *logger.Logger
}

type service struct {
	repo       *Repository
	orders     *orders.Repository
	orderFlow  orders.Service
	products   *products.Repository
	stores     storeFinder
	gateway    pkgstripe.Gateway
	tx         dbpkg.TxRunner
	successURL string
	cancelURL  string
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("checkout repository required")
	case p.Orders == nil || p.OrderFlow == nil:
		return nil, fmt.Errorf("orders dependencies required")
	case p.Products == nil:
		return nil, fmt.Errorf("products repository required")
	case p.Stores == nil:
		return nil, fmt.Errorf("store finder required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("stripe gateway required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	successURL, cancelURL := RedirectURLs(p.PublicURL, p.SuccessPath, p.CancelPath)
	return &service{
		repo:       p.Repo,
		orders:     p.Orders,
		orderFlow:  p.OrderFlow,
		products:   p.Products,
		stores:     p.Stores,
		gateway:    p.Gateway,
		tx:         p.Tx,
		successURL: successURL,
		cancelURL:  cancelURL,
		logg:       p.Logger,
		now:        time.Now,
	}, nil
}

// RedirectURLs builds the Stripe success and cancel URLs. The success URL
// carries Stripe's session placeholder.
func RedirectURLs(publicURL, successPath, cancelPath string) (string, string) {
	base := strings.TrimRight(publicURL, "/")
	success := base + "/" + strings.TrimLeft(successPath, "/")
	cancel := base + "/" + strings.TrimLeft(cancelPath, "/")
	sep := "?"
	if strings.Contains(success, "?") {
		sep = "&"
	}
	return success + sep + "session_id={CHECKOUT_SESSION_ID}", cancel
}

func (s *service) CreateCheckoutSession(ctx context.Context, input CreateCheckoutInput) (*Result, error) {
	key, err := NormalizeKey(input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	items := append([]ItemInput(nil), input.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID.String() < items[j].ProductID.String() })
	hash, err := RequestHash(cartFingerprint{Mode: enums.CheckoutModePayment, Email: email, Items: items})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash checkout request")
	}

	if existing, err := s.repo.FindByKey(ctx, input.StoreID, key); err == nil {
		return s.replay(existing, hash)
	} else if !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}

	store, err := s.stores.FindByID(ctx, input.StoreID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	order, err := s.buildOrder(ctx, store, input.BuyerUserID, email, items)
	if err != nil {
		return nil, err
	}

	session := &models.CheckoutSession{
		StoreID:        store.ID,
		IdempotencyKey: key,
		RequestHash:    hash,
		Mode:           enums.CheckoutModePayment,
		Status:         enums.CheckoutSessionOpen,
		Email:          email,
	}
	if input.BuyerUserID != "" {
		uid := input.BuyerUserID
		session.UserID = &uid
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		session.OrderID = &order.ID
		return s.repo.WithTx(tx).Create(ctx, session)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueSessionKey) {
			existing, ferr := s.repo.FindByKey(ctx, input.StoreID, key)
			if ferr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "load checkout session")
			}
			return s.replay(existing, hash)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "checkout_session_id": session.ID.String()})
	params := s.paymentParams(store, order, session)
	hosted, err := s.gateway.CreateCheckoutSession(ctx, params, StripeIdempotencyKey(store.ID.String(), key, hash))
	if err != nil {
		s.logg.Error(ctx, "stripe checkout session create failed", err)
		s.abandon(ctx, session, "payment_provider_error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}

	applyHosted(session, hosted)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, session); err != nil {
			return err
		}
		return s.orders.WithTx(tx).SetStripeSession(ctx, order.ID, hosted.ID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	s.logg.Info(ctx, "checkout session created")
	return &Result{Session: NewSessionDTO(session)}, nil
}

func (s *service) replay(existing *models.CheckoutSession, hash string) (*Result, error) {
	matched, err := MatchExisting(existing, hash)
	if err != nil {
		return nil, err
	}
	return &Result{Session: NewSessionDTO(matched), Replayed: true}, nil
}

// buildOrder validates the cart against the catalog and snapshots prices.
func (s *service) buildOrder(ctx context.Context, store *models.Store, buyerUserID, email string, items []ItemInput) (*models.Order, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	found, err := s.products.FindByIDs(ctx, store.ID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	checks := make([]pkgcheckout.LineItemCheck, 0, len(items))
	for _, item := range items {
		p, ok := byID[item.ProductID]
		checks = append(checks, pkgcheckout.LineItemCheck{
			ProductID:   item.ProductID,
			ProductName: p.Name,
			Found:       ok,
			Archived:    p.IsArchived,
			Digital:     p.IsDigital,
			Stock:       p.Stock,
			Quantity:    item.Quantity,
		})
	}
	if err := pkgcheckout.ValidateLineItems(checks); err != nil {
		return nil, err
	}

	order := &models.Order{
		StoreID:  store.ID,
		Email:    email,
		Status:   enums.OrderStatusPending,
		Currency: store.Currency,
	}
	if buyerUserID != "" {
		uid := buyerUserID
		order.BuyerUserID = &uid
	}
	for _, item := range items {
		p := byID[item.ProductID]
		line := models.OrderItem{
			ProductID:      p.ID,
			ProductName:    p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       item.Quantity,
			IsDigital:      p.IsDigital,
		}
		order.Items = append(order.Items, line)
		order.SubtotalCents += line.LineTotalCents()
	}
	order.TotalCents = order.SubtotalCents
	return order, nil
}

func (s *service) paymentParams(store *models.Store, order *models.Order, session *models.CheckoutSession) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		CustomerEmail:     stripe.String(order.Email),
		ClientReferenceID: stripe.String(order.ID.String()),
		Metadata: map[string]string{
			"store_id":            store.ID.String(),
			"order_id":            order.ID.String(),
			"checkout_session_id": session.ID.String(),
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"store_id": store.ID.String(),
				"order_id": order.ID.String(),
			},
		},
	}
	for _, item := range order.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(order.Currency),
				UnitAmount: stripe.Int64(item.UnitPriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ProductName),
				},
			},
		})
	}
	return params
}

// abandon frees the idempotency key and cancels the order after Stripe
// refused to open a session.
func (s *service) abandon(ctx context.Context, session *models.CheckoutSession, reason string) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Delete(ctx, session.ID); err != nil {
			return err
		}
		if session.OrderID == nil {
			return nil
		}
		_, _, err := s.orderFlow.MarkCanceled(ctx, tx, *session.OrderID, reason)
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "abandon checkout session", err)
	}
}

func (s *service) GetCheckoutSession(ctx context.Context, storeID, sessionID uuid.UUID, viewerUserID string) (*SessionDTO, error) {
	session, err := s.repo.FindByID(ctx, storeID, sessionID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if session.UserID != nil && *session.UserID != viewerUserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	dto := NewSessionDTO(session)
	return &dto, nil
}

// CompleteSession marks the session complete, the order paid and takes the
// purchased stock. Replays of an already complete session change nothing.
func (s *service) CompleteSession(ctx context.Context, tx *gorm.DB, completed CompletedSession) (*models.CheckoutSession, error) {
	repo := s.repo.WithTx(tx)
	session, err := repo.FindByStripeID(ctx, completed.StripeSessionID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if session.Status == enums.CheckoutSessionComplete {
		return session, nil
	}
	now := s.now().UTC()
	session.Status = enums.CheckoutSessionComplete
	session.CompletedAt = &now
	if err := repo.Save(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete checkout session")
	}
	if session.Mode != enums.CheckoutModePayment || session.OrderID == nil {
		return session, nil
	}

	order, changed, err := s.orderFlow.MarkPaid(ctx, tx, *session.OrderID, completed.PaymentIntentID)
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		s.logg.Error(s.logg.WithField(ctx, "order_id", session.OrderID.String()), "payment completed for an order that is no longer pending", err)
		return session, nil
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return session, nil
	}
	productRepo := s.products.WithTx(tx)
	for _, item := range order.Items {
		if item.IsDigital {
			continue
		}
		affected, err := productRepo.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if affected == 0 {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"product_id": item.ProductID.String(),
				"quantity":   item.Quantity,
			}), "paid order exceeds remaining stock")
		}
	}
	return session, nil
}

// ExpireSession closes an open session and cancels its pending order.
func (s *service) ExpireSession(ctx context.Context, tx *gorm.DB, stripeSessionID string) (*models.CheckoutSession, error) {
	repo := s.repo.WithTx(tx)
	session, err := repo.FindByStripeID(ctx, stripeSessionID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	return session, s.expire(ctx, tx, session)
}

func (s *service) expire(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) error {
	if session.Status != enums.CheckoutSessionOpen {
		return nil
	}
	session.Status = enums.CheckoutSessionExpired
	if err := s.repo.WithTx(tx).Save(ctx, session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire checkout session")
	}
	if session.OrderID == nil {
		return nil
	}
	_, _, err := s.orderFlow.MarkCanceled(ctx, tx, *session.OrderID, "checkout_expired")
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		s.logg.Warn(s.logg.WithField(ctx, "order_id", session.OrderID.String()), "expired session order is no longer pending")
		return nil
	}
	return err
}

// ExpireStale expires open sessions past their deadline. Stripe is told first
// so a buyer cannot pay into a session we have already cancelled.
func (s *service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.repo.ListOpenExpiredBefore(ctx, now, now.Add(-staleSessionAge), expireBatchSize)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    error
	)
	for i := range stale {
		session := &stale[i]
		if session.StripeSessionID != nil && (session.ExpiresAt == nil || session.ExpiresAt.After(now)) {
			if _, err := s.gateway.ExpireCheckoutSession(ctx, *session.StripeSessionID); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire stripe session %s: %w", *session.StripeSessionID, err))
				continue
			}
		}
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error { return s.expire(ctx, tx, session) }); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire session %s: %w", session.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func applyHosted(session *models.CheckoutSession, hosted *stripe.CheckoutSession) {
	id := hosted.ID
	session.StripeSessionID = &id
	if hosted.URL != "" {
		u := hosted.URL
		session.URL = &u
	}
	if hosted.ExpiresAt > 0 {
		exp := time.Unix(hosted.ExpiresAt, 0).UTC()
		session.ExpiresAt = &exp
	}
}

// NormalizeEmail lowercases and validates a buyer email.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is invalid")
	}
	return email, nil
}
