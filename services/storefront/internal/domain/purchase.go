package domain

import (
	"errors"
	"time"
)

// ErrRemoteOrderNotFound is reported by the payment gateway when the
// processor does not know the order id.
var ErrRemoteOrderNotFound = errors.New("remote order not found")

type PurchaseState string

const (
	StateInitiated          PurchaseState = "INITIATED"
	StateRemoteOrderCreated PurchaseState = "REMOTE_ORDER_CREATED"
	StateCaptureRequested   PurchaseState = "CAPTURE_REQUESTED"
	StateCaptured           PurchaseState = "CAPTURED"
	StateTokenIssued        PurchaseState = "TOKEN_ISSUED"
	StateNotified           PurchaseState = "NOTIFIED"
	StateDeclined           PurchaseState = "DECLINED"
	StatePending            PurchaseState = "PENDING"
	StateFailed             PurchaseState = "FAILED"
)

// RemoteOrder is the processor-side order as last observed. ReferenceID is
// the product ID the order was opened for.
type RemoteOrder struct {
	ID          string
	Status      string
	Amount      Money
	ReferenceID string
}

type CaptureStatus int

const (
	CaptureUnknown CaptureStatus = iota
	CaptureCompleted
	CaptureDeclined
	CapturePending
)

func (s CaptureStatus) String() string {
	switch s {
	case CaptureCompleted:
		return "COMPLETED"
	case CaptureDeclined:
		return "DECLINED"
	case CapturePending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// CaptureResult is the closed outcome of a capture attempt. Reason holds
// the processor's raw status or issue code when Status is not Completed.
type CaptureResult struct {
	RemoteOrderID  string
	Status         CaptureStatus
	CapturedAmount Money
	CaptureID      string
	PaymentMethod  string
	Reason         string
}

type StartedPurchase struct {
	RemoteOrderID string
	Product       *Product
}

type CompletedPurchase struct {
	RemoteOrderID string
	ProductID     string
	RedemptionURL string
	ExpiresAt     time.Time
}

// Purchase is a ledger row for a captured remote order.
type Purchase struct {
	RemoteOrderID string
	ProductID     string
	BuyerContact  string
	Amount        Money
	CaptureID     string
	Token         string
	RedemptionURL string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}
