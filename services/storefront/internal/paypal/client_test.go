package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayPal struct {
	server     *httptest.Server
	mux        *http.ServeMux
	tokenCalls atomic.Int32
	tokenFail  atomic.Bool
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()

	f := &fakePayPal{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)

		id, secret, ok := r.BasicAuth()
		if f.tokenFail.Load() || !ok || id != "client" || secret != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   32400,
		})
	})

	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakePayPal) client() *Client {
	return NewClient(Config{
		BaseURL:      f.server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func unprocessable(issue string) map[string]any {
	return map[string]any{
		"name":     "UNPROCESSABLE_ENTITY",
		"message":  "The requested action could not be performed.",
		"debug_id": "dbg-422",
		"details":  []map[string]any{{"issue": issue, "description": "details"}},
	}
}

func completedOrder(id string) map[string]any {
	return map[string]any{
		"id":     id,
		"status": "COMPLETED",
		"payment_source": map[string]any{
			"paypal": map[string]any{"email_address": "payer@example.com"},
		},
		"purchase_units": []map[string]any{{
			"reference_id": "the-commission",
			"amount":       map[string]any{"currency_code": "USD", "value": "9.99"},
			"payments": map[string]any{
				"captures": []map[string]any{{
					"id":     "CAP-1",
					"status": "COMPLETED",
					"amount": map[string]any{"currency_code": "USD", "value": "9.99"},
				}},
			},
		}},
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFakePayPal(t)

	var got createOrderRequest
	f.mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("PayPal-Request-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeJSON(w, http.StatusCreated, map[string]any{"id": "ORDER-1", "status": "CREATED"})
	})

	id, err := f.client().CreateOrder(context.Background(), domain.Money{Minor: 999, Currency: "USD"}, "The Commission", "the-commission")
	require.NoError(t, err)
	require.Equal(t, "ORDER-1", id)

	require.Equal(t, "CAPTURE", got.Intent)
	require.Len(t, got.PurchaseUnits, 1)
	require.Equal(t, "the-commission", got.PurchaseUnits[0].ReferenceID)
	require.Equal(t, amount{CurrencyCode: "USD", Value: "9.99"}, got.PurchaseUnits[0].Amount)
}

func TestAccessTokenIsReused(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ORDER-1"})
	})

	c := f.client()
	for i := 0; i < 3; i++ {
		_, err := c.CreateOrder(context.Background(), domain.Money{Minor: 100, Currency: "USD"}, "", "p")
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, f.tokenCalls.Load())
}

func TestTokenEndpointFailureIsAuthError(t *testing.T) {
	f := newFakePayPal(t)
	f.tokenFail.Store(true)

	_, err := f.client().CreateOrder(context.Background(), domain.Money{Minor: 100, Currency: "USD"}, "", "p")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestUnauthorizedResponseDiscardsToken(t *testing.T) {
	f := newFakePayPal(t)

	var calls atomic.Int32
	f.mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"name": "AUTHENTICATION_FAILURE", "debug_id": "dbg-401"})
			return
		}
		require.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ORDER-2"})
	})

	c := f.client()

	_, err := c.CreateOrder(context.Background(), domain.Money{Minor: 100, Currency: "USD"}, "", "p")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	id, err := c.CreateOrder(context.Background(), domain.Money{Minor: 100, Currency: "USD"}, "", "p")
	require.NoError(t, err)
	require.Equal(t, "ORDER-2", id)
	require.EqualValues(t, 2, f.tokenCalls.Load())
}

func TestGetOrder(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "ORDER-1" {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"name":     "RESOURCE_NOT_FOUND",
				"debug_id": "dbg-404",
				"details":  []map[string]any{{"issue": "INVALID_RESOURCE_ID"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "ORDER-1",
			"status": "APPROVED",
			"purchase_units": []map[string]any{{
				"reference_id": "the-commission",
				"amount":       map[string]any{"currency_code": "USD", "value": "9.99"},
			}},
		})
	})

	c := f.client()

	order, err := c.GetOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, &domain.RemoteOrder{
		ID:          "ORDER-1",
		Status:      "APPROVED",
		Amount:      domain.Money{Minor: 999, Currency: "USD"},
		ReferenceID: "the-commission",
	}, order)

	_, err = c.GetOrder(context.Background(), "MISSING")
	require.True(t, IsNotFound(err))
	require.ErrorIs(t, err, domain.ErrRemoteOrderNotFound)
	require.True(t, IsClientError(err))

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "dbg-404", reqErr.DebugID)
	require.Equal(t, "INVALID_RESOURCE_ID", reqErr.Issue)
}

func TestCaptureOrder_Completed(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "capture-ORDER-1", r.Header.Get("PayPal-Request-Id"))
		writeJSON(w, http.StatusCreated, completedOrder(r.PathValue("id")))
	})

	result, err := f.client().CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, &domain.CaptureResult{
		RemoteOrderID:  "ORDER-1",
		Status:         domain.CaptureCompleted,
		CapturedAmount: domain.Money{Minor: 999, Currency: "USD"},
		CaptureID:      "CAP-1",
		PaymentMethod:  "paypal",
	}, result)
}

func TestCaptureOrder_BusinessOutcomes(t *testing.T) {
	tests := []struct {
		issue  string
		status domain.CaptureStatus
	}{
		{issue: "INSTRUMENT_DECLINED", status: domain.CaptureDeclined},
		{issue: "ORDER_NOT_APPROVED", status: domain.CaptureDeclined},
		{issue: "PAYER_ACTION_REQUIRED", status: domain.CapturePending},
	}

	for _, tt := range tests {
		t.Run(tt.issue, func(t *testing.T) {
			f := newFakePayPal(t)
			f.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, unprocessable(tt.issue))
			})

			result, err := f.client().CaptureOrder(context.Background(), "ORDER-1")
			require.NoError(t, err)
			require.Equal(t, tt.status, result.Status)
			require.Equal(t, tt.issue, result.Reason)
			require.Zero(t, result.CapturedAmount)
		})
	}
}

func TestCaptureOrder_PendingCapture(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		body := completedOrder("ORDER-1")
		capture := body["purchase_units"].([]map[string]any)[0]["payments"].(map[string]any)["captures"].([]map[string]any)[0]
		capture["status"] = "PENDING"
		capture["status_details"] = map[string]any{"reason": "PENDING_REVIEW"}
		writeJSON(w, http.StatusCreated, body)
	})

	result, err := f.client().CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, domain.CapturePending, result.Status)
	require.Equal(t, "PENDING_REVIEW", result.Reason)
}

func TestCaptureOrder_AlreadyCaptured(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, unprocessable(issueAlreadyCaptured))
	})
	f.mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, completedOrder(r.PathValue("id")))
	})

	result, err := f.client().CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, domain.CaptureCompleted, result.Status)
	require.Equal(t, "CAP-1", result.CaptureID)
}

func TestCaptureOrder_ProcessorErrors(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "BAD" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"name":     "INVALID_REQUEST",
				"debug_id": "dbg-400",
				"details":  []map[string]any{{"issue": "MALFORMED_REQUEST_JSON"}},
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"name": "INTERNAL_SERVER_ERROR", "debug_id": "dbg-500"})
	})

	c := f.client()

	_, err := c.CaptureOrder(context.Background(), "ORDER-1")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	require.Equal(t, "dbg-500", reqErr.DebugID)
	require.Contains(t, reqErr.Body, "INTERNAL_SERVER_ERROR")
	require.False(t, IsClientError(err))

	_, err = c.CaptureOrder(context.Background(), "BAD")
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "MALFORMED_REQUEST_JSON", reqErr.Issue)
	require.True(t, IsClientError(err))
}

func TestTransportFailureIsRequestError(t *testing.T) {
	f := newFakePayPal(t)
	c := f.client()
	f.server.Close()

	_, err := c.CaptureOrder(context.Background(), "ORDER-1")
	require.Error(t, err)

	var authErr *AuthError
	var reqErr *RequestError
	require.True(t, errors.As(err, &authErr) || errors.As(err, &reqErr))
	require.False(t, IsClientError(err))
}

func TestIsClientError_AuthIsNotClientError(t *testing.T) {
	err := &AuthError{Err: &RequestError{Op: "capture order", StatusCode: http.StatusUnauthorized}}
	require.False(t, IsClientError(err))
	require.False(t, IsClientError(&RequestError{StatusCode: http.StatusTooManyRequests}))
	require.True(t, IsClientError(&RequestError{StatusCode: http.StatusUnprocessableEntity}))
}
