package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	pkgDomain "github.com/sakashimaa/media-store/pkg/domain"
	"github.com/sakashimaa/media-store/pkg/kafka"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"go.uber.org/zap"
)

type PurchaseNotifications interface {
	HandleBuyerConfirmation(ctx context.Context, event *pkgDomain.BuyerConfirmationEvent) error
	HandleOperatorAlert(ctx context.Context, event *pkgDomain.OperatorAlertEvent) error
}

type Consumer struct {
	service PurchaseNotifications
	logger  *zap.Logger
}

func NewConsumer(service PurchaseNotifications, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, groupID, topic string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{topic},
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// eventWrapper is the outbox envelope; event_id is the outbox row id.
type eventWrapper struct {
	Event   string          `json:"event"`
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var wrapper eventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
		zap.String("event", wrapper.Event),
		zap.Int64("event_id", wrapper.EventID),
	)

	if wrapper.EventID == 0 {
		mylogger.Warn(ctx, c.logger, "Message without event_id, skipping", zap.String("event", wrapper.Event))
		return nil
	}

	switch wrapper.Event {
	case pkgDomain.EventBuyerConfirmation:
		var event pkgDomain.BuyerConfirmationEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing buyer confirmation", zap.Error(err))
			return nil
		}
		event.EventID = wrapper.EventID

		return c.service.HandleBuyerConfirmation(ctx, &event)
	case pkgDomain.EventOperatorAlert:
		var event pkgDomain.OperatorAlertEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing operator alert", zap.Error(err))
			return nil
		}
		event.EventID = wrapper.EventID

		return c.service.HandleOperatorAlert(ctx, &event)
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event", wrapper.Event))
	}

	return nil
}
