package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	generalDomain "github.com/sakashimaa/media-store/pkg/domain"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/media-store/pkg/outbox/domain"
	"github.com/sakashimaa/media-store/pkg/outbox/worker"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const aggregatePurchase = "purchase"

// Purchase is what both notifications are built from.
type Purchase struct {
	RemoteOrderID string
	BuyerEmail    string
	ProductName   string
	Amount        domain.Money
	RedemptionURL string
	PaymentMethod string
	TransactionID string
	PurchasedAt   time.Time
}

// OutboxNotifier stores the buyer confirmation and the operator alert in the
// outbox; the outbox worker delivers them to Kafka.
type OutboxNotifier struct {
	pool          worker.TxBeginner
	outboxRepo    worker.OutboxRepository
	topic         string
	operatorEmail string
	logger        *zap.Logger
	tracer        trace.Tracer
}

func NewOutboxNotifier(
	pool worker.TxBeginner,
	outboxRepo worker.OutboxRepository,
	topic string,
	operatorEmail string,
	logger *zap.Logger,
) *OutboxNotifier {
	return &OutboxNotifier{
		pool:          pool,
		outboxRepo:    outboxRepo,
		topic:         topic,
		operatorEmail: operatorEmail,
		logger:        logger,
		tracer:        otel.Tracer("storefront/notify"),
	}
}

func (n *OutboxNotifier) NotifyPurchase(ctx context.Context, p *Purchase) error {
	ctx, span := n.tracer.Start(ctx, "OutboxNotifier.NotifyPurchase")
	defer span.End()

	span.SetAttributes(attribute.String("remote_order_id", p.RemoteOrderID))

	tx, err := n.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, n.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	buyer := generalDomain.BuyerConfirmationEvent{
		Email:         p.BuyerEmail,
		ProductName:   p.ProductName,
		Amount:        p.Amount.Decimal(),
		Currency:      p.Amount.Currency,
		RedemptionURL: p.RedemptionURL,
		PurchasedAt:   p.PurchasedAt,
	}
	if err := n.enqueue(ctx, tx, p.RemoteOrderID, generalDomain.EventBuyerConfirmation, buyer); err != nil {
		span.RecordError(err)
		return err
	}

	if n.operatorEmail != "" {
		alert := generalDomain.OperatorAlertEvent{
			OperatorEmail: n.operatorEmail,
			BuyerEmail:    p.BuyerEmail,
			ProductName:   p.ProductName,
			Amount:        p.Amount.Decimal(),
			Currency:      p.Amount.Currency,
			RedemptionURL: p.RedemptionURL,
			PaymentMethod: p.PaymentMethod,
			TransactionID: p.TransactionID,
			PurchasedAt:   p.PurchasedAt,
		}
		if err := n.enqueue(ctx, tx, p.RemoteOrderID, generalDomain.EventOperatorAlert, alert); err != nil {
			span.RecordError(err)
			return err
		}
	} else {
		mylogger.Debug(ctx, n.logger, "No operator email configured, skipping operator alert")
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit notifications: %w", err)
	}

	return nil
}

func (n *OutboxNotifier) enqueue(ctx context.Context, tx pgx.Tx, remoteOrderID, eventType string, payload any) error {
	data, err := json.Marshal(generalDomain.EventEnvelope{
		Event:   eventType,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}

	event := &outboxDomain.OutboxEvent{
		AggregateType: aggregatePurchase,
		AggregateID:   remoteOrderID,
		EventType:     eventType,
		Payload:       data,
		Topic:         n.topic,
	}

	if err := n.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save %s: %w", eventType, err)
	}

	return nil
}
