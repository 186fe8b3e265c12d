package subscriptions

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	"github.com/angelmondragon/shopdeck-backend/internal/stores"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
)

type fakeGateway struct {
	created   []*stripe.CheckoutSessionParams
	createErr error
	remote    map[string]*stripe.Subscription
	canceled  []string
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams, _ string) (*stripe.CheckoutSession, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	return &stripe.CheckoutSession{ID: "cs_sub_1", URL: "https://checkout.stripe.test/cs_sub_1"}, nil
}

func (f *fakeGateway) ExpireCheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: id}, nil
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	sub, ok := f.remote[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (f *fakeGateway) CancelSubscriptionAtPeriodEnd(_ context.Context, id string) (*stripe.Subscription, error) {
	sub, ok := f.remote[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	f.canceled = append(f.canceled, id)
	copied := *sub
	copied.CancelAtPeriodEnd = true
	return &copied, nil
}

type fixture struct {
	conn    *gorm.DB
	svc     Service
	gateway *fakeGateway
	store   *models.Store
}

func newFixture(t *testing.T, trialDays int) *fixture {
	t.Helper()
	conn := dbtest.Open(t, &models.Store{}, &models.Subscription{}, &models.CheckoutSession{}, &models.OutboxEvent{})
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	price := "price_monthly"
	store := &models.Store{OwnerUserID: "owner", Name: "Clay", Slug: "clay", Currency: "usd", TrialDays: trialDays, SubscriptionPriceID: &price}
	require.NoError(t, conn.Create(store).Error)

	gw := &fakeGateway{remote: map[string]*stripe.Subscription{}}
	svc, err := NewService(ServiceParams{
		Repo:        NewRepository(conn),
		Sessions:    checkout.NewRepository(conn),
		Stores:      stores.NewRepository(conn),
		Gateway:     gw,
		Tx:          dbpkg.FromGorm(conn),
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		PublicURL:   "https://shop.test",
		SuccessPath: "/subscribed",
		CancelPath:  "/plans",
		Logger:      logg,
	})
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, gateway: gw, store: store}
}

func (f *fixture) stripeSub(id string, status stripe.SubscriptionStatus, periodEnd time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   status,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: map[string]string{
			MetaStoreID: f.store.ID.String(),
			MetaUserID:  "user_1",
			MetaEmail:   "user@example.com",
		},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			Price:              &stripe.Price{ID: "price_monthly"},
			CurrentPeriodStart: periodEnd.Add(-30 * 24 * time.Hour).Unix(),
			CurrentPeriodEnd:   periodEnd.Unix(),
		}}},
	}
}

func (f *fixture) sync(t *testing.T, sub *stripe.Subscription) *models.Subscription {
	t.Helper()
	var row *models.Subscription
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = f.svc.SyncFromStripe(context.Background(), tx, sub)
		return err
	}))
	return row
}

func (f *fixture) events(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Order("created_at").Find(&rows).Error)
	return rows
}

func TestTrialEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("no trial configured", func(t *testing.T) {
		f := newFixture(t, 0)
		out, err := f.svc.CheckTrialEligibility(ctx, "user_1", f.store.ID)
		require.NoError(t, err)
		assert.False(t, out.Eligible)
		assert.Equal(t, ReasonNoTrial, out.Reason)
	})

	t.Run("fresh user", func(t *testing.T) {
		f := newFixture(t, 14)
		out, err := f.svc.CheckTrialEligibility(ctx, "user_1", f.store.ID)
		require.NoError(t, err)
		assert.True(t, out.Eligible)
		assert.Equal(t, 14, out.TrialDays)
	})

	t.Run("existing subscription", func(t *testing.T) {
		f := newFixture(t, 14)
		f.sync(t, f.stripeSub("sub_1", stripe.SubscriptionStatusCanceled, time.Now().Add(-time.Hour)))
		out, err := f.svc.CheckTrialEligibility(ctx, "user_1", f.store.ID)
		require.NoError(t, err)
		assert.False(t, out.Eligible)
		assert.Equal(t, ReasonExisting, out.Reason)
	})

	t.Run("prior completed checkout", func(t *testing.T) {
		f := newFixture(t, 14)
		uid := "user_1"
		require.NoError(t, f.conn.Create(&models.CheckoutSession{
			StoreID: f.store.ID, IdempotencyKey: "old", RequestHash: "h", Mode: enums.CheckoutModeSubscription,
			Status: enums.CheckoutSessionComplete, UserID: &uid, Email: "user@example.com",
		}).Error)
		out, err := f.svc.CheckTrialEligibility(ctx, "user_1", f.store.ID)
		require.NoError(t, err)
		assert.False(t, out.Eligible)
		assert.Equal(t, ReasonPriorCheckout, out.Reason)
	})
}

func TestStartSubscriptionCheckout(t *testing.T) {
	f := newFixture(t, 7)
	ctx := context.Background()
	input := StartCheckoutInput{UserID: "user_1", Email: "User@Example.com", StoreID: f.store.ID, IdempotencyKey: "sub-key"}

	res, err := f.svc.StartSubscriptionCheckout(ctx, input)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.NotNil(t, res.Session.URL)
	require.Len(t, f.gateway.created, 1)

	params := f.gateway.created[0]
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *params.Mode)
	assert.Equal(t, "price_monthly", *params.LineItems[0].Price)
	require.NotNil(t, params.SubscriptionData.TrialPeriodDays)
	assert.EqualValues(t, 7, *params.SubscriptionData.TrialPeriodDays)
	assert.Equal(t, "user@example.com", params.SubscriptionData.Metadata[MetaEmail])
	assert.Equal(t, f.store.ID.String(), params.SubscriptionData.Metadata[MetaStoreID])

	again, err := f.svc.StartSubscriptionCheckout(ctx, input)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Session.ID, again.Session.ID)
	assert.Len(t, f.gateway.created, 1)
}

func TestStartSubscriptionCheckoutWithoutTrialAfterPriorSubscription(t *testing.T) {
	f := newFixture(t, 7)
	f.sync(t, f.stripeSub("sub_old", stripe.SubscriptionStatusCanceled, time.Now().Add(-48*time.Hour)))

	_, err := f.svc.StartSubscriptionCheckout(context.Background(), StartCheckoutInput{
		UserID: "user_1", Email: "user@example.com", StoreID: f.store.ID, IdempotencyKey: "k",
	})
	require.NoError(t, err)
	require.Len(t, f.gateway.created, 1)
	assert.Nil(t, f.gateway.created[0].SubscriptionData.TrialPeriodDays)
}

func TestStartSubscriptionCheckoutRejectsActiveSubscriber(t *testing.T) {
	f := newFixture(t, 7)
	f.sync(t, f.stripeSub("sub_1", stripe.SubscriptionStatusActive, time.Now().Add(24*time.Hour)))

	_, err := f.svc.StartSubscriptionCheckout(context.Background(), StartCheckoutInput{
		UserID: "user_1", Email: "user@example.com", StoreID: f.store.ID, IdempotencyKey: "k",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Empty(t, f.gateway.created)
}

func TestStartSubscriptionCheckoutStripeFailureFreesKey(t *testing.T) {
	f := newFixture(t, 7)
	f.gateway.createErr = errors.New("stripe down")
	input := StartCheckoutInput{UserID: "user_1", Email: "user@example.com", StoreID: f.store.ID, IdempotencyKey: "k"}

	_, err := f.svc.StartSubscriptionCheckout(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	f.gateway.createErr = nil
	res, err := f.svc.StartSubscriptionCheckout(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestSyncFromStripeCreatesAndTracksChanges(t *testing.T) {
	f := newFixture(t, 7)
	end := time.Now().Add(7 * 24 * time.Hour)

	trial := f.stripeSub("sub_1", stripe.SubscriptionStatusTrialing, end)
	trial.TrialEnd = end.Unix()
	row := f.sync(t, trial)
	assert.Equal(t, enums.SubscriptionStatusTrialing, row.Status)
	require.NotNil(t, row.CurrentPeriodEnd)
	assert.Equal(t, end.Unix(), row.CurrentPeriodEnd.Unix())

	types := func() []enums.OutboxEventType {
		var out []enums.OutboxEventType
		for _, ev := range f.events(t) {
			out = append(out, ev.EventType)
		}
		return out
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventSubscriptionChanged, enums.EventEmailRequested}, types())

	// same state again is quiet
	f.sync(t, trial)
	assert.Len(t, f.events(t), 2)

	active := f.stripeSub("sub_1", stripe.SubscriptionStatusActive, end)
	updated := f.sync(t, active)
	assert.Equal(t, row.ID, updated.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, updated.Status)
	assert.Len(t, f.events(t), 3)

	var count int64
	require.NoError(t, f.conn.Model(&models.Subscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSyncFromStripeRequiresMetadataForUnknownSubscription(t *testing.T) {
	f := newFixture(t, 7)
	sub := f.stripeSub("sub_x", stripe.SubscriptionStatusActive, time.Now())
	sub.Metadata = nil

	err := f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.SyncFromStripe(context.Background(), tx, sub)
		return err
	})
	require.Error(t, err)
}

func TestCancelSubscriptionKeepsAccessUntilPeriodEnd(t *testing.T) {
	f := newFixture(t, 7)
	end := time.Now().Add(10 * 24 * time.Hour)
	remote := f.stripeSub("sub_1", stripe.SubscriptionStatusActive, end)
	f.gateway.remote["sub_1"] = remote
	f.sync(t, remote)

	out, err := f.svc.CancelSubscription(context.Background(), "user_1", f.store.ID)
	require.NoError(t, err)
	assert.True(t, out.CancelAtPeriodEnd)
	assert.True(t, out.HasAccess)
	assert.Equal(t, []string{"sub_1"}, f.gateway.canceled)

	// second cancel does not call stripe again
	_, err = f.svc.CancelSubscription(context.Background(), "user_1", f.store.ID)
	require.NoError(t, err)
	assert.Len(t, f.gateway.canceled, 1)

	_, err = f.svc.GetSubscription(context.Background(), "user_2", f.store.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcilePullsMissedUpdates(t *testing.T) {
	f := newFixture(t, 7)
	ended := time.Now().Add(-3 * time.Hour)
	f.sync(t, f.stripeSub("sub_1", stripe.SubscriptionStatusActive, ended))

	f.gateway.remote["sub_1"] = f.stripeSub("sub_1", stripe.SubscriptionStatusPastDue, ended)
	synced, err := f.svc.Reconcile(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	out, err := f.svc.GetSubscription(context.Background(), "user_1", f.store.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPastDue, out.Status)
	assert.False(t, out.HasAccess)
}

func TestReconcileCollectsFetchErrors(t *testing.T) {
	f := newFixture(t, 7)
	f.sync(t, f.stripeSub("sub_missing", stripe.SubscriptionStatusActive, time.Now().Add(-3*time.Hour)))

	synced, err := f.svc.Reconcile(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Zero(t, synced)
}
