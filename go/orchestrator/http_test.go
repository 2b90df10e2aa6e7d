package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var m = newMemStore()
	return NewRouter(&Service{Store: m, Service: "orchestrator"}), m
}

func TestPostInternalPayments(t *testing.T) {
	var r, m = newTestRouter(t)

	var req = httptest.NewRequest(http.MethodPost, "/internal/payments",
		strings.NewReader(`{"customer_id":"cust-1","amount_cents":5000,"currency":"USD","idempotency_key":"key-12345"}`))
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-trace-id", "trace-1")
	var w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PaymentID)
	require.Equal(t, "CREATED", resp.Status)
	require.Len(t, m.outbox, 1)
	require.Equal(t, "trace-1", m.outbox[0].env.TraceID)
}

func TestPostInternalPaymentsValidation(t *testing.T) {
	var r, _ = newTestRouter(t)
	var bad = []string{
		`{"customer_id":"","amount_cents":5000,"currency":"USD","idempotency_key":"key-12345"}`,
		`{"customer_id":"cust-1","amount_cents":-1,"currency":"USD","idempotency_key":"key-12345"}`,
		`{"customer_id":"cust-1","amount_cents":5000,"currency":"US","idempotency_key":"key-12345"}`,
		`{"customer_id":"cust-1","amount_cents":5000,"currency":"USD","idempotency_key":"abcd"}`,
	}
	for _, body := range bad {
		var req = httptest.NewRequest(http.MethodPost, "/internal/payments", strings.NewReader(body))
		req.Header.Set("content-type", "application/json")
		var w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestGetPayment(t *testing.T) {
	var r, m = newTestRouter(t)
	m.seed(StatusCaptured, 4)

	var w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/pay-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"payment_id":"pay-1","status":"CAPTURED"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
