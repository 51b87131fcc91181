package domain

import "time"

const (
	EventBuyerConfirmation = "BuyerConfirmation"
	EventOperatorAlert     = "OperatorAlert"
)

// BuyerConfirmationEvent tells the buyer their purchase went through.
// RedemptionURL is empty when no link should be sent.
type BuyerConfirmationEvent struct {
	EventID       int64     `json:"event_id,omitempty"`
	Email         string    `json:"email"`
	ProductName   string    `json:"product_name"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	RedemptionURL string    `json:"redemption_url,omitempty"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// OperatorAlertEvent tells the shop operator a sale happened.
type OperatorAlertEvent struct {
	EventID       int64     `json:"event_id,omitempty"`
	OperatorEmail string    `json:"operator_email"`
	BuyerEmail    string    `json:"buyer_email"`
	ProductName   string    `json:"product_name"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	RedemptionURL string    `json:"redemption_url,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// EventEnvelope is the wire shape of every message on the purchase topic.
type EventEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}
