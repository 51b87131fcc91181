package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	ordersPath = "/v2/checkout/orders"
	tokenPath  = "/v1/oauth2/token"

	statusCompleted = "COMPLETED"
	statusPending   = "PENDING"

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
)

// declineIssues are 422 issues that describe the buyer's payment rather
// than a fault in the request.
var declineIssues = map[string]domain.CaptureStatus{
	"INSTRUMENT_DECLINED":                     domain.CaptureDeclined,
	"ORDER_NOT_APPROVED":                      domain.CaptureDeclined,
	"PAYER_CANNOT_PAY":                        domain.CaptureDeclined,
	"TRANSACTION_REFUSED":                     domain.CaptureDeclined,
	"PAYEE_BLOCKED_TRANSACTION":               domain.CaptureDeclined,
	"PAYER_ACCOUNT_RESTRICTED":                domain.CaptureDeclined,
	"COMPLIANCE_VIOLATION":                    domain.CaptureDeclined,
	"MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED": domain.CaptureDeclined,
	"PAYER_ACTION_REQUIRED":                   domain.CapturePending,
	"ORDER_COMPLETION_IN_PROGRESS":            domain.CapturePending,
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the PayPal Orders v2 API. Each operation is a single
// outbound call; retries are left to the caller.
type Client struct {
	cfg    Config
	http   *resty.Client
	tracer trace.Tracer
	logger *zap.Logger

	mu          sync.Mutex
	tokenSource oauth2.TokenSource
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		tracer: otel.Tracer("storefront/paypal"),
		logger: logger,
	}
	c.tokenSource = c.newTokenSource()

	return c
}

// newTokenSource returns a caching source that fetches a new access token
// once the current one expires.
func (c *Client) newTokenSource() oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.BaseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: c.cfg.Timeout})
	return cc.TokenSource(ctx)
}

func (c *Client) accessToken() (string, error) {
	c.mu.Lock()
	ts := c.tokenSource
	c.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", &AuthError{Err: err}
	}
	return tok.AccessToken, nil
}

// invalidateToken drops the cached credential so the next call fetches a
// fresh one.
func (c *Client) invalidateToken(ctx context.Context) {
	c.mu.Lock()
	c.tokenSource = c.newTokenSource()
	c.mu.Unlock()

	mylogger.Warn(ctx, c.logger, "PayPal rejected access token, credential discarded")
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

// CreateOrder opens a CAPTURE-intent order for amount. referenceID is
// echoed back by GetOrder and binds the order to a product.
func (c *Client) CreateOrder(ctx context.Context, amt domain.Money, description, referenceID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "PayPal.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("paypal.reference_id", referenceID),
		attribute.String("paypal.amount", amt.String()),
	)

	req, err := c.request(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "auth")
		return "", err
	}

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			ReferenceID: referenceID,
			Description: description,
			Amount: amount{
				CurrencyCode: amt.Currency,
				Value:        amt.Decimal(),
			},
		}},
	}

	var out orderResponse
	var errResp errorResponse

	resp, err := req.
		SetHeader("PayPal-Request-Id", uuid.NewString()).
		SetBody(body).
		SetResult(&out).
		SetError(&errResp).
		Post(ordersPath)
	if err := c.checkResponse(ctx, "create order", resp, err, &errResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return "", err
	}

	if out.ID == "" {
		err := &RequestError{Op: "create order", StatusCode: resp.StatusCode(), Body: resp.String(), Err: fmt.Errorf("response without order id")}
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.String("paypal.order_id", out.ID))
	mylogger.Debug(ctx, c.logger, "PayPal order created", zap.String("order_id", out.ID))

	return out.ID, nil
}

// GetOrder reads the order as the processor currently sees it.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.RemoteOrder, error) {
	ctx, span := c.tracer.Start(ctx, "PayPal.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("paypal.order_id", orderID))

	out, err := c.getOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get order")
		return nil, err
	}

	order := &domain.RemoteOrder{
		ID:     out.ID,
		Status: out.Status,
	}

	if unit := out.firstUnit(); unit != nil {
		order.ReferenceID = unit.ReferenceID

		order.Amount, err = domain.ParseMoney(unit.Amount.Value, unit.Amount.CurrencyCode)
		if err != nil {
			return nil, &RequestError{Op: "get order", StatusCode: http.StatusOK, Err: fmt.Errorf("order amount: %w", err)}
		}
	}

	return order, nil
}

func (c *Client) getOrder(ctx context.Context, orderID string) (*orderResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out orderResponse
	var errResp errorResponse

	resp, err := req.
		SetPathParam("id", orderID).
		SetResult(&out).
		SetError(&errResp).
		Get(ordersPath + "/{id}")
	if err := c.checkResponse(ctx, "get order", resp, err, &errResp); err != nil {
		return nil, err
	}

	return &out, nil
}

// CaptureOrder finalizes the charge. Business outcomes, including declines
// reported as 422, come back as a CaptureResult; only transport, auth and
// unexpected processor answers are errors.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*domain.CaptureResult, error) {
	ctx, span := c.tracer.Start(ctx, "PayPal.CaptureOrder")
	defer span.End()

	span.SetAttributes(attribute.String("paypal.order_id", orderID))

	req, err := c.request(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "auth")
		return nil, err
	}

	var out orderResponse
	var errResp errorResponse

	resp, err := req.
		SetPathParam("id", orderID).
		SetHeader("PayPal-Request-Id", "capture-"+orderID).
		SetBody(struct{}{}).
		SetResult(&out).
		SetError(&errResp).
		Post(ordersPath + "/{id}/capture")

	checkErr := c.checkResponse(ctx, "capture order", resp, err, &errResp)
	if checkErr == nil {
		result, err := mapCapture(orderID, &out)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		span.SetAttributes(attribute.String("paypal.capture_status", result.Status.String()))
		return result, nil
	}

	if resp != nil && resp.StatusCode() == http.StatusUnprocessableEntity {
		issue := errResp.issue()

		if status, ok := declineIssues[issue]; ok {
			span.SetAttributes(attribute.String("paypal.capture_status", status.String()))
			return &domain.CaptureResult{
				RemoteOrderID: orderID,
				Status:        status,
				Reason:        issue,
			}, nil
		}

		if issue == issueAlreadyCaptured {
			mylogger.Info(ctx, c.logger, "Order already captured, reading existing capture", zap.String("order_id", orderID))

			existing, err := c.getOrder(ctx, orderID)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			return mapCapture(orderID, existing)
		}
	}

	span.RecordError(checkErr)
	span.SetStatus(codes.Error, "capture order")
	return nil, checkErr
}

func (c *Client) checkResponse(ctx context.Context, op string, resp *resty.Response, err error, errResp *errorResponse) error {
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}

	if !resp.IsError() {
		return nil
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		c.invalidateToken(ctx)
		return &AuthError{Err: &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Name:       errResp.Name,
			DebugID:    errResp.DebugID,
			Body:       resp.String(),
		}}
	}

	reqErr := &RequestError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Name:       errResp.Name,
		Issue:      errResp.issue(),
		DebugID:    errResp.DebugID,
		Body:       resp.String(),
	}
	if resp.StatusCode() == http.StatusNotFound {
		reqErr.Err = domain.ErrRemoteOrderNotFound
	}

	return reqErr
}

func mapCapture(orderID string, out *orderResponse) (*domain.CaptureResult, error) {
	result := &domain.CaptureResult{
		RemoteOrderID: orderID,
		PaymentMethod: paymentMethod(out.PaymentSource),
		Reason:        out.Status,
	}

	cp := out.firstCapture()
	if cp == nil {
		result.Status = domain.CaptureUnknown
		return result, nil
	}

	result.CaptureID = cp.ID

	switch {
	case out.Status == statusCompleted && cp.Status == statusCompleted:
		captured, err := domain.ParseMoney(cp.Amount.Value, cp.Amount.CurrencyCode)
		if err != nil {
			return nil, &RequestError{Op: "capture order", StatusCode: http.StatusOK, Err: fmt.Errorf("captured amount: %w", err)}
		}
		result.Status = domain.CaptureCompleted
		result.CapturedAmount = captured
		result.Reason = ""
	case cp.Status == statusPending:
		result.Status = domain.CapturePending
		result.Reason = cp.Status
		if cp.StatusDetails != nil && cp.StatusDetails.Reason != "" {
			result.Reason = cp.StatusDetails.Reason
		}
	case cp.Status == "DECLINED" || cp.Status == "FAILED":
		result.Status = domain.CaptureDeclined
		result.Reason = cp.Status
	default:
		result.Status = domain.CaptureUnknown
		result.Reason = cp.Status
	}

	return result, nil
}

func paymentMethod(source map[string]json.RawMessage) string {
	if len(source) == 0 {
		return "paypal"
	}

	keys := make([]string, 0, len(source))
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys[0]
}
