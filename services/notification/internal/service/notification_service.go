package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	pkgDomain "github.com/sakashimaa/media-store/pkg/domain"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/media-store/pkg/outbox/utils"
	"github.com/sakashimaa/media-store/pkg/outbox/worker"
	"github.com/sakashimaa/media-store/services/notification/internal/domain"
	"github.com/sakashimaa/media-store/services/notification/internal/infrastructure/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type NotificationService struct {
	emailSender email.Sender
	logger      *zap.Logger
	pool        worker.TxBeginner
	sent        *prometheus.CounterVec
	tracer      trace.Tracer
}

// NewSentCounter counts handled notifications by event and result.
func NewSentCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notification",
		Name:      "emails_total",
		Help:      "Purchase notifications handled, by event and result.",
	}, []string{"event", "result"})
	reg.MustRegister(counter)

	return counter
}

func NewNotificationService(
	emailSender email.Sender,
	pool worker.TxBeginner,
	sent *prometheus.CounterVec,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		logger:      logger,
		pool:        pool,
		sent:        sent,
		tracer:      otel.Tracer("notification-service"),
	}
}

func (s *NotificationService) HandleBuyerConfirmation(ctx context.Context, event *pkgDomain.BuyerConfirmationEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleBuyerConfirmation")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", event.EventID))

	msg, err := email.RenderBuyerConfirmation(event)
	if err != nil {
		return s.finish(ctx, pkgDomain.EventBuyerConfirmation, event.EventID, err)
	}

	err = outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, event.EventID, func() error {
		return s.emailSender.Send(ctx, msg)
	})

	return s.finish(ctx, pkgDomain.EventBuyerConfirmation, event.EventID, err)
}

func (s *NotificationService) HandleOperatorAlert(ctx context.Context, event *pkgDomain.OperatorAlertEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOperatorAlert")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", event.EventID))

	msg, err := email.RenderOperatorAlert(event)
	if err != nil {
		return s.finish(ctx, pkgDomain.EventOperatorAlert, event.EventID, err)
	}

	err = outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, event.EventID, func() error {
		return s.emailSender.Send(ctx, msg)
	})

	return s.finish(ctx, pkgDomain.EventOperatorAlert, event.EventID, err)
}

// finish records the outcome. Invalid events are dropped so the consumer
// does not redeliver them forever.
func (s *NotificationService) finish(ctx context.Context, event string, eventID int64, err error) error {
	switch {
	case err == nil:
		s.sent.WithLabelValues(event, "sent").Inc()
		return nil
	case errors.Is(err, domain.ErrInvalidEvent):
		s.sent.WithLabelValues(event, "invalid").Inc()
		mylogger.Warn(ctx, s.logger, "Dropping invalid notification", zap.String("event", event), zap.Int64("event_id", eventID), zap.Error(err))
		return nil
	default:
		s.sent.WithLabelValues(event, "failed").Inc()
		return err
	}
}
