package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/pkg/utils"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/sakashimaa/media-store/services/storefront/internal/entitlement"
	"github.com/sakashimaa/media-store/services/storefront/internal/metrics"
	"github.com/sakashimaa/media-store/services/storefront/internal/notify"
	"github.com/sakashimaa/media-store/services/storefront/internal/repository"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultNotifyTimeout = 5 * time.Second

type Catalog interface {
	Resolve(slug string) (*domain.Product, bool)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount domain.Money, description, referenceID string) (string, error)
	GetOrder(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error)
	CaptureOrder(ctx context.Context, remoteOrderID string) (*domain.CaptureResult, error)
}

type TokenIssuer interface {
	Issue(grant entitlement.Grant, ttl time.Duration) (string, *entitlement.Claims, error)
}

type PurchaseNotifier interface {
	NotifyPurchase(ctx context.Context, purchase *notify.Purchase) error
}

type PurchaseService interface {
	StartPurchase(ctx context.Context, slug, buyerContact string) (*domain.StartedPurchase, error)
	CompletePurchase(ctx context.Context, remoteOrderID, slug, buyerContact string) (*domain.CompletedPurchase, error)
}

// PurchaseDeps wires a PurchaseService. Ledger is optional; without it a
// repeated completion mints an independent token.
type PurchaseDeps struct {
	Catalog       Catalog
	Gateway       PaymentGateway
	Tokens        TokenIssuer
	Notifier      PurchaseNotifier
	Ledger        repository.PurchaseRepository
	Breaker       *gobreaker.CircuitBreaker
	Metrics       *metrics.Metrics
	Origin        string
	TokenTTL      time.Duration
	NotifyTimeout time.Duration
}

type purchaseService struct {
	catalog       Catalog
	gateway       PaymentGateway
	tokens        TokenIssuer
	notifier      PurchaseNotifier
	ledger        repository.PurchaseRepository
	breaker       *gobreaker.CircuitBreaker
	metrics       *metrics.Metrics
	validate      *validator.Validate
	origin        string
	tokenTTL      time.Duration
	notifyTimeout time.Duration
	logger        *zap.Logger
	tracer        trace.Tracer
}

func NewPurchaseService(deps PurchaseDeps, logger *zap.Logger) PurchaseService {
	notifyTimeout := deps.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}

	return &purchaseService{
		catalog:       deps.Catalog,
		gateway:       deps.Gateway,
		tokens:        deps.Tokens,
		notifier:      deps.Notifier,
		ledger:        deps.Ledger,
		breaker:       deps.Breaker,
		metrics:       deps.Metrics,
		validate:      validator.New(),
		origin:        strings.TrimRight(deps.Origin, "/"),
		tokenTTL:      deps.TokenTTL,
		notifyTimeout: notifyTimeout,
		logger:        logger,
		tracer:        otel.Tracer("storefront/purchase_service"),
	}
}

func (s *purchaseService) StartPurchase(ctx context.Context, slug, buyerContact string) (*domain.StartedPurchase, error) {
	ctx, span := s.tracer.Start(ctx, "PurchaseService.StartPurchase")
	defer span.End()

	product, _, err := s.validateRequest(slug, buyerContact)
	if err != nil {
		mylogger.Info(ctx, s.logger, "Purchase request rejected", zap.String("slug", slug), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("product_id", product.ID))

	remoteOrderID, err := callGateway(ctx, s, "create_order", func() (string, error) {
		return s.gateway.CreateOrder(ctx, product.Price, product.Name, product.ID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.gatewayFailure(ctx, "create order", "", err)
	}

	s.metrics.PurchasesStarted.WithLabelValues(product.ID).Inc()
	s.transition(ctx, remoteOrderID, domain.StateRemoteOrderCreated)

	return &domain.StartedPurchase{
		RemoteOrderID: remoteOrderID,
		Product:       product,
	}, nil
}

func (s *purchaseService) CompletePurchase(ctx context.Context, remoteOrderID, slug, buyerContact string) (*domain.CompletedPurchase, error) {
	ctx, span := s.tracer.Start(ctx, "PurchaseService.CompletePurchase")
	defer span.End()

	remoteOrderID = strings.TrimSpace(remoteOrderID)
	span.SetAttributes(attribute.String("remote_order_id", remoteOrderID))

	if remoteOrderID == "" {
		return nil, s.reject(ctx, remoteOrderID, ErrUnknownRemoteOrder)
	}

	product, contact, err := s.validateRequest(slug, buyerContact)
	if err != nil {
		return nil, s.reject(ctx, remoteOrderID, err)
	}

	s.transition(ctx, remoteOrderID, domain.StateInitiated)

	if s.ledger != nil {
		existing, err := s.ledger.FindByRemoteOrderID(ctx, remoteOrderID)
		switch {
		case err == nil:
			return s.fromLedger(ctx, existing, product, contact)
		case !errors.Is(err, repository.ErrPurchaseNotFound):
			span.RecordError(err)
			s.metrics.PurchaseOutcomes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("ledger lookup: %w", err)
		}
	}

	order, err := callGateway(ctx, s, "get_order", func() (*domain.RemoteOrder, error) {
		return s.gateway.GetOrder(ctx, remoteOrderID)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrRemoteOrderNotFound) {
			return nil, s.reject(ctx, remoteOrderID, ErrUnknownRemoteOrder)
		}
		return nil, s.gatewayFailure(ctx, "get order", remoteOrderID, err)
	}

	// the order must be the one opened for this product at its catalog price
	if order.ReferenceID != product.ID || !order.Amount.Equal(product.Price) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Remote order does not match requested product",
			zap.String("remote_order_id", remoteOrderID),
			zap.String("product_id", product.ID),
			zap.String("order_reference", order.ReferenceID),
			zap.String("order_amount", order.Amount.String()),
			zap.String("product_price", product.Price.String()),
		)
		return nil, s.reject(ctx, remoteOrderID, ErrProductMismatch)
	}

	s.transition(ctx, remoteOrderID, domain.StateCaptureRequested)

	result, err := callGateway(ctx, s, "capture_order", func() (*domain.CaptureResult, error) {
		return s.gateway.CaptureOrder(ctx, remoteOrderID)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrRemoteOrderNotFound) {
			return nil, s.reject(ctx, remoteOrderID, ErrUnknownRemoteOrder)
		}
		return nil, s.gatewayFailure(ctx, "capture order", remoteOrderID, err)
	}

	span.SetAttributes(attribute.String("capture_status", result.Status.String()))

	switch result.Status {
	case domain.CaptureCompleted:
	case domain.CapturePending:
		s.transition(ctx, remoteOrderID, domain.StatePending)
		s.metrics.PurchaseOutcomes.WithLabelValues("pending").Inc()
		mylogger.Info(ctx, s.logger, "Capture pending", zap.String("remote_order_id", remoteOrderID), zap.String("reason", result.Reason))
		return nil, ErrPaymentPending
	default:
		s.transition(ctx, remoteOrderID, domain.StateDeclined)
		s.metrics.PurchaseOutcomes.WithLabelValues("declined").Inc()
		mylogger.Info(
			ctx,
			s.logger,
			"Capture not completed",
			zap.String("remote_order_id", remoteOrderID),
			zap.String("status", result.Status.String()),
			zap.String("reason", result.Reason),
		)
		return nil, &DeclinedError{RemoteOrderID: remoteOrderID, Reason: result.Reason}
	}

	if !result.CapturedAmount.Equal(product.Price) {
		err := fmt.Errorf("captured %s, expected %s", result.CapturedAmount, product.Price)
		span.RecordError(err)
		return nil, s.gatewayFailure(ctx, "capture order", remoteOrderID, err)
	}

	s.transition(ctx, remoteOrderID, domain.StateCaptured)

	token, claims, err := s.tokens.Issue(entitlement.Grant{
		RemoteOrderID: remoteOrderID,
		ProductID:     product.ID,
		BuyerContact:  contact,
	}, s.tokenTTL)
	if err != nil {
		span.RecordError(err)
		s.transition(ctx, remoteOrderID, domain.StateFailed)
		s.metrics.PurchaseOutcomes.WithLabelValues("error").Inc()
		mylogger.Error(ctx, s.logger, "Failed to issue token for captured order", zap.String("remote_order_id", remoteOrderID), zap.Error(err))
		return nil, fmt.Errorf("issue token: %w", err)
	}

	completed := &domain.CompletedPurchase{
		RemoteOrderID: remoteOrderID,
		ProductID:     product.ID,
		RedemptionURL: s.redemptionURL(token),
		ExpiresAt:     claims.ExpiresTime(),
	}

	s.transition(ctx, remoteOrderID, domain.StateTokenIssued)

	if s.ledger != nil {
		winner, recorded := s.record(ctx, completed, contact, token, claims, result)
		if !recorded {
			return winner, nil
		}
	}

	s.metrics.PurchaseOutcomes.WithLabelValues("completed").Inc()

	s.dispatch(ctx, &notify.Purchase{
		RemoteOrderID: remoteOrderID,
		BuyerEmail:    contact,
		ProductName:   product.Name,
		Amount:        result.CapturedAmount,
		RedemptionURL: completed.RedemptionURL,
		PaymentMethod: result.PaymentMethod,
		TransactionID: result.CaptureID,
		PurchasedAt:   claims.IssuedTime(),
	})

	return completed, nil
}

// record stores the purchase in the ledger. When another call recorded the
// same order first it returns that call's result and false.
func (s *purchaseService) record(
	ctx context.Context,
	completed *domain.CompletedPurchase,
	contact, token string,
	claims *entitlement.Claims,
	result *domain.CaptureResult,
) (*domain.CompletedPurchase, bool) {
	err := s.ledger.Save(ctx, &domain.Purchase{
		RemoteOrderID: completed.RemoteOrderID,
		ProductID:     completed.ProductID,
		BuyerContact:  contact,
		Amount:        result.CapturedAmount,
		CaptureID:     result.CaptureID,
		Token:         token,
		RedemptionURL: completed.RedemptionURL,
		IssuedAt:      claims.IssuedTime(),
		ExpiresAt:     claims.ExpiresTime(),
	})
	if err == nil {
		return nil, true
	}

	if errors.Is(err, repository.ErrPurchaseExists) {
		existing, findErr := s.ledger.FindByRemoteOrderID(ctx, completed.RemoteOrderID)
		if findErr == nil {
			s.metrics.PurchaseOutcomes.WithLabelValues("duplicate").Inc()
			return toCompleted(existing), false
		}
		err = findErr
	}

	// the capture already succeeded; an unrecorded purchase only loses
	// idempotency for this order
	mylogger.Error(
		ctx,
		s.logger,
		"Failed to record purchase in ledger",
		zap.String("remote_order_id", completed.RemoteOrderID),
		zap.Error(err),
	)
	return nil, true
}

func (s *purchaseService) fromLedger(
	ctx context.Context,
	existing *domain.Purchase,
	product *domain.Product,
	contact string,
) (*domain.CompletedPurchase, error) {
	if existing.ProductID != product.ID {
		mylogger.Warn(
			ctx,
			s.logger,
			"Recorded purchase is for a different product",
			zap.String("remote_order_id", existing.RemoteOrderID),
			zap.String("recorded_product", existing.ProductID),
			zap.String("requested_product", product.ID),
		)
		return nil, s.reject(ctx, existing.RemoteOrderID, ErrProductMismatch)
	}

	// the recorded link belongs to the buyer who paid
	if !strings.EqualFold(existing.BuyerContact, contact) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Recorded purchase is for a different buyer",
			zap.String("remote_order_id", existing.RemoteOrderID),
		)
		return nil, s.reject(ctx, existing.RemoteOrderID, ErrContactMismatch)
	}

	mylogger.Info(ctx, s.logger, "Purchase already completed, returning recorded link", zap.String("remote_order_id", existing.RemoteOrderID))
	s.metrics.PurchaseOutcomes.WithLabelValues("duplicate").Inc()

	return toCompleted(existing), nil
}

// dispatch hands the purchase to the notifier. It runs detached from the
// request context and never fails the purchase.
func (s *purchaseService) dispatch(ctx context.Context, purchase *notify.Purchase) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyPurchase(notifyCtx, purchase); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to dispatch purchase notifications",
			zap.String("remote_order_id", purchase.RemoteOrderID),
			zap.Error(err),
		)
		return
	}

	s.transition(ctx, purchase.RemoteOrderID, domain.StateNotified)
}

func (s *purchaseService) validateRequest(slug, buyerContact string) (*domain.Product, string, error) {
	product, ok := s.catalog.Resolve(slug)
	if !ok {
		return nil, "", ErrUnknownProduct
	}

	contact := strings.TrimSpace(buyerContact)
	if err := s.validate.Var(contact, "required,email,max=254"); err != nil {
		return nil, "", ErrInvalidContact
	}

	return product, contact, nil
}

func (s *purchaseService) redemptionURL(token string) string {
	return s.origin + "/download?" + url.Values{"token": {token}}.Encode()
}

func (s *purchaseService) reject(ctx context.Context, remoteOrderID string, err error) error {
	s.metrics.PurchaseOutcomes.WithLabelValues("rejected").Inc()
	mylogger.Info(ctx, s.logger, "Purchase completion rejected", zap.String("remote_order_id", remoteOrderID), zap.Error(err))
	return err
}

func (s *purchaseService) gatewayFailure(ctx context.Context, op, remoteOrderID string, err error) error {
	if remoteOrderID != "" {
		s.transition(ctx, remoteOrderID, domain.StateFailed)
	}
	s.metrics.PurchaseOutcomes.WithLabelValues("gateway_error").Inc()

	mylogger.Error(
		ctx,
		s.logger,
		"Payment gateway call failed",
		zap.String("op", op),
		zap.String("remote_order_id", remoteOrderID),
		zap.Error(err),
	)

	return &GatewayError{Op: op, Err: err}
}

func (s *purchaseService) transition(ctx context.Context, remoteOrderID string, state domain.PurchaseState) {
	mylogger.Debug(
		ctx,
		s.logger,
		"Purchase state changed",
		zap.String("remote_order_id", remoteOrderID),
		zap.String("state", string(state)),
	)
}

func callGateway[T any](ctx context.Context, s *purchaseService, op string, fn func() (T, error)) (T, error) {
	start := time.Now()

	res, err := utils.ExecuteWithBreaker(s.breaker, fn)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.GatewayDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		mylogger.Warn(ctx, s.logger, "Payment gateway circuit breaker open", zap.String("op", op))
	}

	return res, err
}

func toCompleted(p *domain.Purchase) *domain.CompletedPurchase {
	return &domain.CompletedPurchase{
		RemoteOrderID: p.RemoteOrderID,
		ProductID:     p.ProductID,
		RedemptionURL: p.RedemptionURL,
		ExpiresAt:     p.ExpiresAt,
	}
}
