package tests

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/media-store/pkg/kafka"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/sakashimaa/media-store/services/storefront/internal/repository"
	"github.com/sakashimaa/media-store/services/storefront/internal/service"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestStartAndCompletePurchase_Success() {
	started, err := s.PurchaseService.StartPurchase(s.Ctx, "The Commission", buyerEmail)
	s.Require().NoError(err)
	s.Require().Equal("the-commission", started.Product.ID)

	completed, err := s.PurchaseService.CompletePurchase(s.Ctx, started.RemoteOrderID, "the-commission", buyerEmail)
	s.Require().NoError(err)
	s.Require().Equal(1, s.PayPal.captureCount(started.RemoteOrderID))

	recorded, err := s.Ledger.FindByRemoteOrderID(s.Ctx, started.RemoteOrderID)
	s.Require().NoError(err)
	s.Require().Equal("the-commission", recorded.ProductID)
	s.Require().Equal(buyerEmail, recorded.BuyerContact)
	s.Require().Equal(domain.Money{Minor: 999, Currency: "USD"}, recorded.Amount)
	s.Require().Equal("CAP-"+started.RemoteOrderID, recorded.CaptureID)
	s.Require().Equal(completed.RedemptionURL, recorded.RedemptionURL)

	pointer, err := s.RedemptionService.Redeem(s.Ctx, s.tokenFrom(completed.RedemptionURL))
	s.Require().NoError(err)
	s.Require().Equal("https://cdn.example.com/media/the-commission.zip", pointer.ContentRef)
}

func (s *IntegrationTestSuite) TestCompletePurchase_WritesNotificationsToOutbox() {
	s.PayPal.approve("ORDER-X")

	_, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-X", "the-commission", buyerEmail)
	s.Require().NoError(err)

	query := `
		SELECT event_type, topic, aggregate_type
		FROM outbox
		WHERE aggregate_id = $1
		ORDER BY event_type
	`

	rows, err := s.DbPool.Query(s.Ctx, query, "ORDER-X")
	s.Require().NoError(err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var eventType, topic, aggregateType string
		s.Require().NoError(rows.Scan(&eventType, &topic, &aggregateType))
		s.Require().Equal(testTopic, topic)
		s.Require().Equal("purchase", aggregateType)
		types = append(types, eventType)
	}
	s.Require().NoError(rows.Err())
	s.Require().Equal([]string{"BuyerConfirmation", "OperatorAlert"}, types)

	publishedQuery := `
		SELECT COUNT(*)
		FROM outbox
		WHERE aggregate_id = $1 AND published_at IS NOT NULL
	`

	s.Require().Eventually(func() bool {
		var published int
		err := s.DbPool.QueryRow(s.Ctx, publishedQuery, "ORDER-X").Scan(&published)
		return err == nil && published == 2
	}, 10*time.Second, 100*time.Millisecond)
}

func (s *IntegrationTestSuite) TestCompletePurchase_RepeatReturnsRecordedLink() {
	s.PayPal.approve("ORDER-R")

	first, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-R", "the-commission", buyerEmail)
	s.Require().NoError(err)

	second, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-R", "the-commission", buyerEmail)
	s.Require().NoError(err)

	s.Require().Equal(first.RedemptionURL, second.RedemptionURL)
	s.Require().Equal(first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
	s.Require().Equal(1, s.PayPal.captureCount("ORDER-R"))

	var events int
	err = s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1`, "ORDER-R").Scan(&events)
	s.Require().NoError(err)
	s.Require().Equal(2, events)
}

func (s *IntegrationTestSuite) TestCompletePurchase_UnknownRemoteOrder() {
	_, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-MISSING", "the-commission", buyerEmail)
	s.Require().ErrorIs(err, service.ErrUnknownRemoteOrder)

	_, err = s.Ledger.FindByRemoteOrderID(s.Ctx, "ORDER-MISSING")
	s.Require().ErrorIs(err, repository.ErrPurchaseNotFound)
}

func (s *IntegrationTestSuite) TestRedeem_SingleUse() {
	s.PayPal.approve("ORDER-S")

	completed, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-S", "the-commission", buyerEmail)
	s.Require().NoError(err)

	token := s.tokenFrom(completed.RedemptionURL)

	_, err = s.RedemptionService.Redeem(s.Ctx, token)
	s.Require().NoError(err)

	_, err = s.RedemptionService.Redeem(s.Ctx, token)

	var denied *service.DeniedError
	s.Require().True(errors.As(err, &denied))
	s.Require().Equal("already_redeemed", denied.Reason)

	ttl, err := s.RedisClient.TTL(s.Ctx, repository.RedemptionKey(token)).Result()
	s.Require().NoError(err)
	s.Require().Greater(ttl, 50*time.Minute)
}

func (s *IntegrationTestSuite) TestPurchaseRepository_DuplicateSave() {
	now := time.Now().UTC().Truncate(time.Second)
	purchase := &domain.Purchase{
		RemoteOrderID: "ORDER-D",
		ProductID:     "the-commission",
		BuyerContact:  buyerEmail,
		Amount:        domain.Money{Minor: 999, Currency: "USD"},
		CaptureID:     "CAP-D",
		Token:         "token",
		RedemptionURL: "https://shop.example.com/download?token=token",
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Hour),
	}

	s.Require().NoError(s.Ledger.Save(s.Ctx, purchase))
	s.Require().ErrorIs(s.Ledger.Save(s.Ctx, purchase), repository.ErrPurchaseExists)

	found, err := s.Ledger.FindByRemoteOrderID(s.Ctx, "ORDER-D")
	s.Require().NoError(err)
	s.Require().True(found.ExpiresAt.Equal(purchase.ExpiresAt))
	s.Require().Equal(purchase.Token, found.Token)
}

func (s *IntegrationTestSuite) TestOutboxDeliversEnvelopeToKafka() {
	received := make(chan map[string]any, 4)

	consumer := kafka.NewConsumerGroup(
		s.KafkaBrokers,
		"storefront-test-"+time.Now().Format("150405.000"),
		[]string{testTopic},
		func(_ context.Context, msg *sarama.ConsumerMessage) error {
			var envelope map[string]any
			if err := json.Unmarshal(msg.Value, &envelope); err != nil {
				return err
			}
			received <- envelope
			return nil
		},
		zap.NewNop(),
	)

	consumerCtx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	go func() { _ = consumer.Run(consumerCtx) }()

	s.PayPal.approve("ORDER-K")
	_, err := s.PurchaseService.CompletePurchase(s.Ctx, "ORDER-K", "the-commission", buyerEmail)
	s.Require().NoError(err)

	seen := map[string]bool{}
	timeout := time.After(30 * time.Second)
	for len(seen) < 2 {
		select {
		case envelope := <-received:
			s.Require().NotNil(envelope["event_id"])
			payload := envelope["payload"].(map[string]any)
			if payload["redemption_url"] == nil {
				continue
			}
			seen[envelope["event"].(string)] = true
		case <-timeout:
			s.FailNow("timed out waiting for purchase events", "seen: %v", seen)
		}
	}

	s.Require().True(seen["BuyerConfirmation"])
	s.Require().True(seen["OperatorAlert"])
}
