package service

import (
	"context"
	"fmt"

	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/sakashimaa/media-store/services/storefront/internal/entitlement"
	"github.com/sakashimaa/media-store/services/storefront/internal/metrics"
	"github.com/sakashimaa/media-store/services/storefront/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	reasonUnknownProduct  = "unknown_product"
	reasonAlreadyRedeemed = "already_redeemed"
)

type TokenVerifier interface {
	Verify(token string) (*entitlement.Claims, error)
}

type RedemptionService interface {
	Redeem(ctx context.Context, token string) (*domain.ContentPointer, error)
}

type redemptionService struct {
	tokens  TokenVerifier
	catalog Catalog
	guard   repository.RedemptionGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRedemptionService builds the verifier. guard is optional; with it each
// token redeems once.
func NewRedemptionService(
	tokens TokenVerifier,
	catalog Catalog,
	guard repository.RedemptionGuard,
	m *metrics.Metrics,
	logger *zap.Logger,
) RedemptionService {
	return &redemptionService{
		tokens:  tokens,
		catalog: catalog,
		guard:   guard,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("storefront/redemption_service"),
	}
}

func (s *redemptionService) Redeem(ctx context.Context, token string) (*domain.ContentPointer, error) {
	ctx, span := s.tracer.Start(ctx, "RedemptionService.Redeem")
	defer span.End()

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, s.deny(ctx, entitlement.Reason(err), err, nil)
	}

	span.SetAttributes(
		attribute.String("remote_order_id", claims.RemoteOrderID),
		attribute.String("product_id", claims.ProductID),
	)

	product, ok := s.catalog.Resolve(claims.ProductID)
	if !ok {
		return nil, s.deny(ctx, reasonUnknownProduct, nil, claims)
	}

	if s.guard != nil {
		fresh, err := s.guard.Consume(ctx, token, claims.ExpiresTime())
		if err != nil {
			span.RecordError(err)
			s.metrics.Redemptions.WithLabelValues("error").Inc()
			mylogger.Error(ctx, s.logger, "Redemption guard unavailable", zap.Error(err))
			return nil, fmt.Errorf("consume token: %w", err)
		}
		if !fresh {
			return nil, s.deny(ctx, reasonAlreadyRedeemed, nil, claims)
		}
	}

	s.metrics.Redemptions.WithLabelValues("granted").Inc()
	mylogger.Info(
		ctx,
		s.logger,
		"Redemption granted",
		zap.String("remote_order_id", claims.RemoteOrderID),
		zap.String("product_id", product.ID),
	)

	return &domain.ContentPointer{
		ProductID:  product.ID,
		ContentRef: product.ContentRef,
		ExpiresAt:  claims.ExpiresTime(),
	}, nil
}

func (s *redemptionService) deny(ctx context.Context, reason string, cause error, claims *entitlement.Claims) error {
	s.metrics.Redemptions.WithLabelValues("denied_" + reason).Inc()

	fields := []zap.Field{zap.String("reason", reason)}
	if claims != nil {
		fields = append(fields,
			zap.String("remote_order_id", claims.RemoteOrderID),
			zap.String("product_id", claims.ProductID),
		)
	}
	mylogger.Warn(ctx, s.logger, "Redemption denied", fields...)

	return &DeniedError{Reason: reason, Err: cause}
}
