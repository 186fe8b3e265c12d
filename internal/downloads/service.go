// Package downloads grants buyers of digital products a bounded number of
// fetches through signed customer links.
package downloads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/email"
	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/pkg/auth"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
)

const (
	defaultMaxDownloads = 5
	defaultLinkTTL      = 7 * 24 * time.Hour
	defaultSignedURLTTL = 5 * time.Minute
)

type Service interface {
	FulfillOrder(ctx context.Context, orderID uuid.UUID) error
	IssueCustomerToken(d *models.Download) (string, error)
	VerifyCustomerToken(ctx context.Context, token string) (*models.Download, error)
	Redeem(ctx context.Context, token string) (string, error)
	ListDownloadsForOrder(ctx context.Context, storeID, orderID uuid.UUID) ([]DownloadDTO, error)
	RevokeDownloads(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	ResendDownloadEmail(ctx context.Context, storeID, orderID uuid.UUID) error
	ExpireDownloads(ctx context.Context, now time.Time) (int64, error)
}

// URLSigner mints short-lived object storage URLs.
type URLSigner interface {
	SignedURL(key string, ttl time.Duration) (string, error)
}

type storeFinder interface {
	FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Store, error)
}

type ServiceParams struct {
	Repo       *Repository
	Orders     *orders.Repository
	Products   *products.Repository
	Stores     storeFinder
	Signer     URLSigner
	Outbox     outbox.Emitter
	Tx         dbpkg.TxRunner
	Config     config.DownloadsConfig
	APIBaseURL string
	Logger     *logger.Logger
}

type service struct {
	repo     *Repository
	orders   *orders.Repository
	products *products.Repository
	stores   storeFinder
	signer   URLSigner
	outbox   outbox.Emitter
	tx       dbpkg.TxRunner
	cfg      config.DownloadsConfig
	linkBase string
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("download repository required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order repository required")
	case p.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case p.Stores == nil:
		return nil, fmt.Errorf("store finder required")
	case p.Signer == nil:
		return nil, fmt.Errorf("url signer required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case strings.TrimSpace(p.Config.TokenSecret) == "":
		return nil, fmt.Errorf("download token secret required")
	}
	cfg := p.Config
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = defaultMaxDownloads
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedURLTTL
	}
	return &service{
		repo:     p.Repo,
		orders:   p.Orders,
		products: p.Products,
		stores:   p.Stores,
		signer:   p.Signer,
		outbox:   p.Outbox,
		tx:       p.Tx,
		cfg:      cfg,
		linkBase: strings.TrimRight(p.APIBaseURL, "/") + "/api/v1/downloads/",
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// FulfillOrder issues a grant for every digital line of a paid order and
// queues the receipt email. Running it twice creates nothing new.
func (s *service) FulfillOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx = s.logg.WithField(ctx, "order_id", orderID.String())
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).Get(ctx, orderID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status != enums.OrderStatusPaid {
			s.logg.Warn(s.logg.WithField(ctx, "status", string(order.Status)), "skip fulfillment for unpaid order")
			return nil
		}
		grants, err := s.issue(ctx, tx, order)
		if err != nil {
			return err
		}
		receipt, err := s.receipt(tx, order, grants)
		if err != nil {
			return err
		}
		req, err := email.NewRequest(order.StoreID, order.Email, email.TemplateOrderReceipt, receipt)
		if err != nil {
			return err
		}
		req.AggregateType = enums.AggregateOrder
		req.AggregateID = order.ID
		if err := s.outbox.EmitIfNotExists(ctx, tx, req); err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(ctx, "downloads", len(grants)), "order fulfilled")
		return nil
	})
}

func (s *service) issue(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.Download, error) {
	var productIDs []uuid.UUID
	for _, item := range order.Items {
		if item.IsDigital {
			productIDs = append(productIDs, item.ProductID)
		}
	}
	if len(productIDs) == 0 {
		return nil, nil
	}
	found, err := s.products.WithTx(tx).FindByIDs(ctx, order.StoreID, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load digital products")
	}
	keys := make(map[uuid.UUID]string, len(found))
	for _, p := range found {
		if p.DownloadObjectKey != nil && *p.DownloadObjectKey != "" {
			keys[p.ID] = *p.DownloadObjectKey
		}
	}

	now := s.now()
	rows := make([]models.Download, 0, len(productIDs))
	for _, item := range order.Items {
		if !item.IsDigital {
			continue
		}
		key, ok := keys[item.ProductID]
		if !ok {
			s.logg.Warn(s.logg.WithField(ctx, "product_id", item.ProductID.String()), "digital product has no file, no download issued")
			continue
		}
		rows = append(rows, models.Download{
			StoreID:      order.StoreID,
			OrderID:      order.ID,
			OrderItemID:  item.ID,
			ProductID:    item.ProductID,
			Email:        order.Email,
			ObjectKey:    key,
			MaxDownloads: s.cfg.MaxDownloads,
			ExpiresAt:    now.Add(s.cfg.LinkTTL),
		})
	}
	repo := s.repo.WithTx(tx)
	if err := repo.CreateMissing(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create downloads")
	}
	return repo.ListByOrder(ctx, order.ID)
}

func (s *service) receipt(tx *gorm.DB, order *models.Order, grants []models.Download) (email.OrderReceiptData, error) {
	data := email.OrderReceiptData{
		OrderID:    order.ID.String(),
		Currency:   order.Currency,
		TotalCents: order.TotalCents,
	}
	if store, err := s.stores.FindByIDWithTx(tx, order.StoreID); err == nil {
		data.StoreName = store.Name
	}
	names := make(map[uuid.UUID]string, len(order.Items))
	for _, item := range order.Items {
		names[item.ID] = item.ProductName
		data.Items = append(data.Items, email.ReceiptItem{
			Name:           item.ProductName,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents(),
		})
	}
	links, err := s.links(grants, names)
	if err != nil {
		return data, err
	}
	data.Downloads = links
	return data, nil
}

func (s *service) links(grants []models.Download, names map[uuid.UUID]string) ([]email.DownloadLink, error) {
	now := s.now()
	out := make([]email.DownloadLink, 0, len(grants))
	for i := range grants {
		if !grants[i].IsRedeemable(now) {
			continue
		}
		token, err := s.IssueCustomerToken(&grants[i])
		if err != nil {
			return nil, err
		}
		out = append(out, email.DownloadLink{
			ProductName: names[grants[i].OrderItemID],
			URL:         s.linkBase + token,
			ExpiresAt:   grants[i].ExpiresAt,
		})
	}
	return out, nil
}

func (s *service) IssueCustomerToken(d *models.Download) (string, error) {
	if d == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "download required")
	}
	token, err := auth.MintCustomerToken(s.cfg, s.now(), d.ExpiresAt, auth.CustomerTokenPayload{
		DownloadID: d.ID,
		OrderID:    d.OrderID,
		TokenID:    d.TokenID,
		Email:      d.Email,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint download token")
	}
	return token, nil
}

func (s *service) VerifyCustomerToken(ctx context.Context, token string) (*models.Download, error) {
	claims, err := auth.ParseCustomerToken(s.cfg, strings.TrimSpace(token))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid download link")
	}
	row, err := s.repo.FindByID(ctx, claims.DownloadID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "download not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load download")
	}
	if row.OrderID != claims.OrderID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid download link")
	}
	// A resend rotates the token id; older links stop working.
	if claims.ID != row.TokenID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "download link was replaced")
	}
	if !row.IsRedeemable(s.now()) {
		return nil, inactive(row, s.now())
	}
	return row, nil
}

func inactive(d *models.Download, now time.Time) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "download is no longer available").
		WithDetails(map[string]any{"reason": grantState(*d, now)})
}

// grantState checks expiry before revocation: the expiry sweep also stamps
// revoked_at.
func grantState(d models.Download, now time.Time) string {
	switch {
	case !now.Before(d.ExpiresAt):
		return stateExpired
	case d.RevokedAt != nil:
		return stateRevoked
	case d.DownloadCount >= d.MaxDownloads:
		return stateExhausted
	default:
		return stateActive
	}
}

// Redeem spends one fetch and returns a signed storage URL for the file.
func (s *service) Redeem(ctx context.Context, token string) (string, error) {
	row, err := s.VerifyCustomerToken(ctx, token)
	if err != nil {
		return "", err
	}
	now := s.now()
	ok, err := s.repo.Consume(ctx, row.ID, now)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download")
	}
	if !ok {
		// lost a race with another fetch or a revoke
		latest, ferr := s.repo.FindByID(ctx, row.ID)
		if ferr != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "load download")
		}
		return "", inactive(latest, now)
	}
	url, err := s.signer.SignedURL(row.ObjectKey, s.cfg.SignedURLTTL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign download url")
	}
	return url, nil
}

func (s *service) ListDownloadsForOrder(ctx context.Context, storeID, orderID uuid.UUID) ([]DownloadDTO, error) {
	if _, err := s.findOrder(ctx, storeID, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list downloads")
	}
	now := s.now()
	out := make([]DownloadDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, newDownloadDTO(row, now))
	}
	return out, nil
}

func (s *service) findOrder(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, storeID, orderID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) RevokeDownloads(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	n, err := s.repo.WithTx(tx).RevokeByOrder(ctx, orderID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke downloads")
	}
	return n, nil
}

// ResendDownloadEmail mails the buyer fresh links for the grants still
// active on the order. Links sent earlier are invalidated.
func (s *service) ResendDownloadEmail(ctx context.Context, storeID, orderID uuid.UUID) error {
	order, err := s.findOrder(ctx, storeID, orderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusPaid {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order is %s", order.Status)
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.RotateTokens(ctx, orderID, s.now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate download tokens")
		}
		grants, err := repo.ListByOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list downloads")
		}
		receipt, err := s.receipt(tx, order, grants)
		if err != nil {
			return err
		}
		if len(receipt.Downloads) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no active downloads")
		}
		req, err := email.NewRequest(order.StoreID, order.Email, email.TemplateOrderReceipt, receipt)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, req)
	})
}

func (s *service) ExpireDownloads(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.RevokeExpired(ctx, now.UTC())
}
