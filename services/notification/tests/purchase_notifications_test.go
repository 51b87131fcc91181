package tests

import (
	"sync"
	"time"

	pkgDomain "github.com/sakashimaa/media-store/pkg/domain"
)

func (s *IntegrationTestSuite) buyerEvent(id int64) *pkgDomain.BuyerConfirmationEvent {
	return &pkgDomain.BuyerConfirmationEvent{
		EventID:       id,
		Email:         "buyer@example.com",
		ProductName:   "The Commission",
		Amount:        "9.99",
		Currency:      "USD",
		RedemptionURL: "https://shop.example.com/download?token=abc",
		PurchasedAt:   time.Now(),
	}
}

func (s *IntegrationTestSuite) TestBuyerConfirmation_RecordsProcessedEvent() {
	err := s.NotificationService.HandleBuyerConfirmation(s.Ctx, s.buyerEvent(101))
	s.Require().NoError(err)
	s.Require().Equal(1, s.Sender.count())

	var processed int
	err = s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM processed_events WHERE event_id = $1`, 101).
		Scan(&processed)
	s.Require().NoError(err)
	s.Require().Equal(1, processed)
}

func (s *IntegrationTestSuite) TestBuyerConfirmation_RedeliveryIsIgnored() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.NotificationService.HandleBuyerConfirmation(s.Ctx, s.buyerEvent(102)))
	}

	s.Require().Equal(1, s.Sender.count())
}

func (s *IntegrationTestSuite) TestOperatorAlert_ConcurrentRedeliverySendsOnce() {
	event := &pkgDomain.OperatorAlertEvent{
		EventID:       103,
		OperatorEmail: "operator@example.com",
		BuyerEmail:    "buyer@example.com",
		ProductName:   "The Commission",
		Amount:        "9.99",
		Currency:      "USD",
		PaymentMethod: "paypal",
		TransactionID: "CAP-1",
		PurchasedAt:   time.Now(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.NotificationService.HandleOperatorAlert(s.Ctx, event)
		}()
	}
	wg.Wait()

	s.Require().Equal(1, s.Sender.count())
}
