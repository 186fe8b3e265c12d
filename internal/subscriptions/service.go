package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	"github.com/angelmondragon/shopdeck-backend/internal/email"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	pkgstripe "github.com/angelmondragon/shopdeck-backend/pkg/stripe"
)

const (
	uniqueUserStore   = "uq_subscriptions_user_store"
	uniqueSessionKey  = "uq_checkout_sessions_store_key"
	reconcileBatch    = 100
	reconcileGraceAge = time.Hour
)

// Service is the subscription lifecycle surface.
type Service interface {
	CheckTrialEligibility(ctx context.Context, userID string, storeID uuid.UUID) (*Eligibility, error)
	StartSubscriptionCheckout(ctx context.Context, input StartCheckoutInput) (*checkout.Result, error)
	GetSubscription(ctx context.Context, userID string, storeID uuid.UUID) (*SubscriptionDTO, error)
	CancelSubscription(ctx context.Context, userID string, storeID uuid.UUID) (*SubscriptionDTO, error)
	SyncFromStripe(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription) (*models.Subscription, error)
	Reconcile(ctx context.Context, now time.Time) (int, error)
}

type storeFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Store, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo      *Repository
	Sessions  *checkout.Repository
	Stores    storeFinder
	Gateway   pkgstripe.Gateway
	Tx        dbpkg.TxRunner
	Outbox    outbox.Emitter
	PublicURL string
	// SuccessPath and CancelPath are joined to PublicURL for the Stripe redirects.
	SuccessPath string
	CancelPath  string
	Logger      *logger.Logger
}

type service struct {
	repo       *Repository
	sessions   *checkout.Repository
	stores     storeFinder
	gateway    pkgstripe.Gateway
	tx         dbpkg.TxRunner
	outbox     outbox.Emitter
	successURL string
	cancelURL  string
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("subscription repository required")
	case p.Sessions == nil:
		return nil, fmt.Errorf("checkout session repository required")
	case p.Stores == nil:
		return nil, fmt.Errorf("store finder required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("stripe gateway required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	successURL, cancelURL := checkout.RedirectURLs(p.PublicURL, p.SuccessPath, p.CancelPath)
	return &service{
		repo:       p.Repo,
		sessions:   p.Sessions,
		stores:     p.Stores,
		gateway:    p.Gateway,
		tx:         p.Tx,
		outbox:     p.Outbox,
		successURL: successURL,
		cancelURL:  cancelURL,
		logg:       p.Logger,
		now:        time.Now,
	}, nil
}

func (s *service) loadStore(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return store, nil
}

// CheckTrialEligibility allows one trial per user and store: the store must
// offer one, and the user must never have held a subscription or finished a
// subscription checkout there.
func (s *service) CheckTrialEligibility(ctx context.Context, userID string, storeID uuid.UUID) (*Eligibility, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	store, err := s.loadStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return s.eligibility(ctx, userID, store)
}

func (s *service) eligibility(ctx context.Context, userID string, store *models.Store) (*Eligibility, error) {
	out := &Eligibility{TrialDays: store.TrialDays}
	switch {
	case !store.OffersSubscription():
		out.Reason = ReasonNoPlan
		return out, nil
	case store.TrialDays <= 0:
		out.Reason = ReasonNoTrial
		return out, nil
	}

	_, err := s.repo.FindByUserStore(ctx, userID, store.ID)
	switch {
	case err == nil:
		out.Reason = ReasonExisting
		return out, nil
	case !dbpkg.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	done, err := s.sessions.HasCompleted(ctx, store.ID, userID, enums.CheckoutModeSubscription)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout history")
	}
	if done {
		out.Reason = ReasonPriorCheckout
		return out, nil
	}
	out.Eligible = true
	return out, nil
}

type subscriptionFingerprint struct {
	Mode    enums.CheckoutMode `json:"mode"`
	Email   string             `json:"email"`
	PriceID string             `json:"price_id"`
}

func (s *service) StartSubscriptionCheckout(ctx context.Context, input StartCheckoutInput) (*checkout.Result, error) {
	if input.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	key, err := checkout.NormalizeKey(input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	addr, err := checkout.NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	store, err := s.loadStore(ctx, input.StoreID)
	if err != nil {
		return nil, err
	}
	if !store.OffersSubscription() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store does not offer a subscription")
	}
	priceID := *store.SubscriptionPriceID
	hash, err := checkout.RequestHash(subscriptionFingerprint{Mode: enums.CheckoutModeSubscription, Email: addr, PriceID: priceID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash checkout request")
	}

	if existing, err := s.sessions.FindByKey(ctx, store.ID, key); err == nil {
		return replay(existing, hash)
	} else if !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}

	current, err := s.repo.FindByUserStore(ctx, input.UserID, store.ID)
	if err != nil && !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if HasAccess(current, s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has an active subscription for this store")
	}
	elig, err := s.eligibility(ctx, input.UserID, store)
	if err != nil {
		return nil, err
	}

	uid := input.UserID
	session := &models.CheckoutSession{
		StoreID:        store.ID,
		IdempotencyKey: key,
		RequestHash:    hash,
		Mode:           enums.CheckoutModeSubscription,
		Status:         enums.CheckoutSessionOpen,
		UserID:         &uid,
		Email:          addr,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueSessionKey) {
			existing, ferr := s.sessions.FindByKey(ctx, store.ID, key)
			if ferr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "load checkout session")
			}
			return replay(existing, hash)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	meta := map[string]string{
		MetaStoreID: store.ID.String(),
		MetaUserID:  input.UserID,
		MetaEmail:   addr,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		CustomerEmail:     stripe.String(addr),
		ClientReferenceID: stripe.String(input.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata:         map[string]string{"checkout_session_id": session.ID.String(), MetaStoreID: store.ID.String()},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	if elig.Eligible {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(store.TrialDays))
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"checkout_session_id": session.ID.String(), "trial": elig.Eligible})
	hosted, err := s.gateway.CreateCheckoutSession(ctx, params, checkout.StripeIdempotencyKey(store.ID.String(), key, hash))
	if err != nil {
		s.logg.Error(logCtx, "stripe subscription checkout create failed", err)
		if derr := s.sessions.Delete(ctx, session.ID); derr != nil {
			s.logg.Error(logCtx, "release checkout idempotency key", derr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
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
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	s.logg.Info(logCtx, "subscription checkout created")
	return &checkout.Result{Session: checkout.NewSessionDTO(session)}, nil
}

func replay(existing *models.CheckoutSession, hash string) (*checkout.Result, error) {
	matched, err := checkout.MatchExisting(existing, hash)
	if err != nil {
		return nil, err
	}
	return &checkout.Result{Session: checkout.NewSessionDTO(matched), Replayed: true}, nil
}

func (s *service) GetSubscription(ctx context.Context, userID string, storeID uuid.UUID) (*SubscriptionDTO, error) {
	sub, err := s.find(ctx, userID, storeID)
	if err != nil {
		return nil, err
	}
	dto := NewSubscriptionDTO(sub, s.now())
	return &dto, nil
}

func (s *service) find(ctx context.Context, userID string, storeID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByUserStore(ctx, userID, storeID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}

// CancelSubscription asks Stripe to stop renewing and mirrors the answer.
func (s *service) CancelSubscription(ctx context.Context, userID string, storeID uuid.UUID) (*SubscriptionDTO, error) {
	sub, err := s.find(ctx, userID, storeID)
	if err != nil {
		return nil, err
	}
	if !IsActiveStatus(sub.Status) && sub.Status != enums.SubscriptionStatusPastDue {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "subscription is %s", sub.Status)
	}
	if sub.StripeSubscriptionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not linked to stripe")
	}
	if !sub.CancelAtPeriodEnd {
		remote, err := s.gateway.CancelSubscriptionAtPeriodEnd(ctx, *sub.StripeSubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription")
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			updated, err := s.SyncFromStripe(ctx, tx, remote)
			if err != nil {
				return err
			}
			sub = updated
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	dto := NewSubscriptionDTO(sub, s.now())
	return &dto, nil
}

// SyncFromStripe upserts the mirror row for sub inside tx. The row is found
// by Stripe id first, then by the user and store in the metadata.
func (s *service) SyncFromStripe(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription) (*models.Subscription, error) {
	if sub == nil || sub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription is required")
	}
	repo := s.repo.WithTx(tx)
	row, err := repo.FindByStripeID(ctx, sub.ID)
	if err != nil && !dbpkg.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	isNew := false
	if row == nil {
		storeID, userID, merr := OwnerFromMetadata(sub.Metadata)
		if merr != nil {
			return nil, merr
		}
		row, err = repo.FindByUserStore(ctx, userID, storeID)
		switch {
		case err == nil:
		case dbpkg.IsNotFound(err):
			row = &models.Subscription{StoreID: storeID, UserID: userID}
			isNew = true
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
	}

	previous := row.Status
	previousCancel := row.CancelAtPeriodEnd
	ApplyStripe(row, sub)
	if isNew {
		err = repo.Create(ctx, row)
	} else {
		err = repo.Save(ctx, row)
	}
	if err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueUserStore) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "subscription already mirrored")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
	}

	if isNew || previous != row.Status || previousCancel != row.CancelAtPeriodEnd {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: row.UserID, StoreID: &row.StoreID},
			Data: payloads.SubscriptionChangedEvent{
				SubscriptionID: row.ID,
				StoreID:        row.StoreID,
				UserID:         row.UserID,
				Status:         row.Status,
				PreviousStatus: previous,
				ChangedAt:      s.now().UTC(),
			},
		}); err != nil {
			return nil, err
		}
	}
	if row.Status == enums.SubscriptionStatusTrialing && previous != enums.SubscriptionStatusTrialing {
		if err := s.queueTrialEmail(ctx, tx, row, sub.Metadata[MetaEmail]); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *service) queueTrialEmail(ctx context.Context, tx *gorm.DB, row *models.Subscription, to string) error {
	if to == "" {
		return nil
	}
	store, err := s.stores.FindByIDWithTx(tx, row.StoreID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "store_id", row.StoreID.String()), "trial email skipped, store missing")
		return nil
	}
	data := email.TrialStartedData{StoreName: store.Name, TrialDays: store.TrialDays}
	if row.TrialEnd != nil {
		data.TrialEnd = *row.TrialEnd
	}
	req, err := email.NewRequest(row.StoreID, to, email.TemplateTrialStarted, data)
	if err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, req)
}

// Reconcile refreshes live subscriptions whose period ended without a
// webhook reaching us.
func (s *service) Reconcile(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.repo.ListPeriodEnded(ctx, now.UTC().Add(-reconcileGraceAge), reconcileBatch)
	if err != nil {
		return 0, err
	}
	var (
		synced int
		errs   error
	)
	for _, row := range rows {
		remote, err := s.gateway.GetSubscription(ctx, *row.StripeSubscriptionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fetch %s: %w", *row.StripeSubscriptionID, err))
			continue
		}
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.SyncFromStripe(ctx, tx, remote)
			return err
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", *row.StripeSubscriptionID, err))
			continue
		}
		synced++
	}
	if synced > 0 {
		s.logg.Info(s.logg.WithField(ctx, "synced", synced), "subscriptions reconciled")
	}
	return synced, errs
}
