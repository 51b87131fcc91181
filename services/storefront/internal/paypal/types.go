package paypal

import "encoding/json"

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnitRequest struct {
	ReferenceID string `json:"reference_id"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string                `json:"intent"`
	PurchaseUnits []purchaseUnitRequest `json:"purchase_units"`
}

type statusDetails struct {
	Reason string `json:"reason"`
}

type capture struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *statusDetails `json:"status_details,omitempty"`
	Amount        amount         `json:"amount"`
}

type payments struct {
	Captures []capture `json:"captures"`
}

type purchaseUnit struct {
	ReferenceID string    `json:"reference_id"`
	Amount      amount    `json:"amount"`
	Payments    *payments `json:"payments,omitempty"`
}

type orderResponse struct {
	ID            string                     `json:"id"`
	Status        string                     `json:"status"`
	PurchaseUnits []purchaseUnit             `json:"purchase_units"`
	PaymentSource map[string]json.RawMessage `json:"payment_source,omitempty"`
}

func (o *orderResponse) firstUnit() *purchaseUnit {
	if len(o.PurchaseUnits) == 0 {
		return nil
	}
	return &o.PurchaseUnits[0]
}

func (o *orderResponse) firstCapture() *capture {
	unit := o.firstUnit()
	if unit == nil || unit.Payments == nil || len(unit.Payments.Captures) == 0 {
		return nil
	}
	return &unit.Payments.Captures[0]
}

type errorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

type errorResponse struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	DebugID string        `json:"debug_id"`
	Details []errorDetail `json:"details"`
}

func (e *errorResponse) issue() string {
	if len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Issue
}
