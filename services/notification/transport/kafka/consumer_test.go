package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	pkgDomain "github.com/sakashimaa/media-store/pkg/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifications struct {
	buyer    []*pkgDomain.BuyerConfirmationEvent
	operator []*pkgDomain.OperatorAlertEvent
	err      error
}

func (f *fakeNotifications) HandleBuyerConfirmation(_ context.Context, event *pkgDomain.BuyerConfirmationEvent) error {
	f.buyer = append(f.buyer, event)
	return f.err
}

func (f *fakeNotifications) HandleOperatorAlert(_ context.Context, event *pkgDomain.OperatorAlertEvent) error {
	f.operator = append(f.operator, event)
	return f.err
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "purchase_events", Value: []byte(value)}
}

func TestProcessMessage_RoutesByEvent(t *testing.T) {
	svc := &fakeNotifications{}
	c := NewConsumer(svc, zap.NewNop())

	err := c.processMessage(context.Background(), message(
		`{"event":"BuyerConfirmation","event_id":7,"payload":{"email":"buyer@example.com","product_name":"The Commission","amount":"9.99","currency":"USD"}}`,
	))
	require.NoError(t, err)

	err = c.processMessage(context.Background(), message(
		`{"event":"OperatorAlert","event_id":8,"payload":{"operator_email":"operator@example.com","product_name":"The Commission","transaction_id":"CAP-1"}}`,
	))
	require.NoError(t, err)

	require.Len(t, svc.buyer, 1)
	require.EqualValues(t, 7, svc.buyer[0].EventID)
	require.Equal(t, "buyer@example.com", svc.buyer[0].Email)

	require.Len(t, svc.operator, 1)
	require.EqualValues(t, 8, svc.operator[0].EventID)
	require.Equal(t, "CAP-1", svc.operator[0].TransactionID)
}

func TestProcessMessage_SkipsUndeliverable(t *testing.T) {
	svc := &fakeNotifications{}
	c := NewConsumer(svc, zap.NewNop())

	for _, value := range []string{
		`not json`,
		`{"event":"BuyerConfirmation","payload":{"email":"buyer@example.com"}}`,
		`{"event":"BuyerConfirmation","event_id":3,"payload":"oops"}`,
		`{"event":"SomethingElse","event_id":4,"payload":{}}`,
	} {
		require.NoError(t, c.processMessage(context.Background(), message(value)), value)
	}

	require.Empty(t, svc.buyer)
	require.Empty(t, svc.operator)
}

func TestProcessMessage_ReturnsHandlerError(t *testing.T) {
	svc := &fakeNotifications{err: errors.New("smtp down")}
	c := NewConsumer(svc, zap.NewNop())

	err := c.processMessage(context.Background(), message(
		`{"event":"OperatorAlert","event_id":8,"payload":{"operator_email":"operator@example.com","product_name":"The Commission"}}`,
	))
	require.ErrorContains(t, err, "smtp down")
}
