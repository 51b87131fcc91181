package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// PurchaseRepository is the optional ledger of captured remote orders. A
// remote order id is recorded at most once.
type PurchaseRepository interface {
	Save(ctx context.Context, purchase *domain.Purchase) error
	FindByRemoteOrderID(ctx context.Context, remoteOrderID string) (*domain.Purchase, error)
}

type purchaseRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewPurchaseRepository(pool *pgxpool.Pool, logger *zap.Logger) PurchaseRepository {
	return &purchaseRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("storefront/purchase_repo"),
	}
}

func (r *purchaseRepo) Save(ctx context.Context, purchase *domain.Purchase) error {
	ctx, span := r.tracer.Start(ctx, "PurchaseRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("remote_order_id", purchase.RemoteOrderID),
		attribute.String("product_id", purchase.ProductID),
	)

	query := `
		INSERT INTO purchases (
			remote_order_id, product_id, buyer_contact, amount_minor, currency,
			capture_id, token, redemption_url, issued_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(
		ctx,
		query,
		purchase.RemoteOrderID,
		purchase.ProductID,
		purchase.BuyerContact,
		purchase.Amount.Minor,
		purchase.Amount.Currency,
		purchase.CaptureID,
		purchase.Token,
		purchase.RedemptionURL,
		purchase.IssuedAt,
		purchase.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			mylogger.Info(
				ctx,
				r.logger,
				"Purchase already recorded",
				zap.String("remote_order_id", purchase.RemoteOrderID),
			)

			return ErrPurchaseExists
		}

		span.RecordError(err)
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	return nil
}

func (r *purchaseRepo) FindByRemoteOrderID(ctx context.Context, remoteOrderID string) (*domain.Purchase, error) {
	ctx, span := r.tracer.Start(ctx, "PurchaseRepository.FindByRemoteOrderID")
	defer span.End()

	span.SetAttributes(attribute.String("remote_order_id", remoteOrderID))

	query := `
		SELECT remote_order_id, product_id, buyer_contact, amount_minor, currency,
			capture_id, token, redemption_url, issued_at, expires_at
		FROM purchases
		WHERE remote_order_id = $1
	`

	var p domain.Purchase
	err := r.pool.QueryRow(ctx, query, remoteOrderID).Scan(
		&p.RemoteOrderID,
		&p.ProductID,
		&p.BuyerContact,
		&p.Amount.Minor,
		&p.Amount.Currency,
		&p.CaptureID,
		&p.Token,
		&p.RedemptionURL,
		&p.IssuedAt,
		&p.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query purchase", zap.String("remote_order_id", remoteOrderID), zap.Error(err))

		return nil, fmt.Errorf("failed to query purchase: %w", err)
	}

	return &p, nil
}
