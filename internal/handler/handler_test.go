package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collection-payments/internal/domain"
	"collection-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	got    domain.ChargeRequest
	result *service.PaymentResult
	err    error
}

func (f *fakeSubmitter) SubmitPayment(_ context.Context, req domain.ChargeRequest) (*service.PaymentResult, error) {
	f.got = req
	return f.result, f.err
}

func newRouter(s PaymentSubmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewPaymentHandler(s).Register(r)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const validBody = `{"source_id":"cnon:abc","amount":"25.00","payer_email":"a@example.com","payer_name":"Ann"}`

func TestSubmitPayment_Success(t *testing.T) {
	s := &fakeSubmitter{result: &service.PaymentResult{
		Payment:    &domain.ChargeRecord{ID: "c1", Amount: decimal.RequireFromString("25.00")},
		PaymentID:  "c1",
		ReceiptURL: "https://squareup.com/receipt/preview/p1",
	}}
	w := post(newRouter(s), "/api/collections/team-2024/payments", validBody)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "c1", resp["paymentId"])
	assert.Equal(t, false, resp["isDuplicate"])
	assert.Equal(t, "https://squareup.com/receipt/preview/p1", resp["receiptUrl"])

	assert.Equal(t, "team-2024", s.got.CollectionSlug)
	assert.Equal(t, "203.0.113.7", s.got.ClientIP)
	assert.Equal(t, "25.00", s.got.Amount)
	assert.Equal(t, "cnon:abc", s.got.SourceID)
}

func TestSubmitPayment_Duplicate(t *testing.T) {
	s := &fakeSubmitter{result: &service.PaymentResult{PaymentID: "c1", IsDuplicate: true}}
	w := post(newRouter(s), "/api/collections/team/payments", validBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isDuplicate":true`)
}

func TestSubmitPayment_ErrorStatuses(t *testing.T) {
	cases := []struct {
		kind   service.ErrorKind
		status int
	}{
		{service.KindValidation, http.StatusBadRequest},
		{service.KindCollectionState, http.StatusUnprocessableEntity},
		{service.KindDuplicateInFlight, http.StatusConflict},
		{service.KindProcessor, http.StatusPaymentRequired},
		{service.KindPersistence, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			s := &fakeSubmitter{err: &service.PaymentError{Kind: tc.kind, Message: "nope", Err: errors.New("internal detail")}}
			w := post(newRouter(s), "/api/collections/team/payments", validBody)

			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, `{"error":"nope"}`, w.Body.String())
		})
	}
}

func TestSubmitPayment_RateLimited(t *testing.T) {
	s := &fakeSubmitter{err: &service.PaymentError{
		Kind:       service.KindRateLimited,
		Message:    "Too many payment attempts. Please wait 42 seconds before trying again.",
		RetryAfter: 42 * time.Second,
	}}
	w := post(newRouter(s), "/api/collections/team/payments", validBody)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"rateLimitExceeded":true`)
}

func TestSubmitPayment_BadBody(t *testing.T) {
	s := &fakeSubmitter{}
	w := post(newRouter(s), "/api/collections/team/payments", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.got.CollectionSlug)
}

func TestSubmitPayment_UnexpectedError(t *testing.T) {
	s := &fakeSubmitter{err: errors.New("boom")}
	w := post(newRouter(s), "/api/collections/team/payments", validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestHealth(t *testing.T) {
	r := newRouter(&fakeSubmitter{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

type fakeNotificationService struct {
	events  []domain.PaymentCompleted
	results []service.DeliveryResult
	err     error
}

func (f *fakeNotificationService) ProcessPaymentCompleted(_ context.Context, e domain.PaymentCompleted) ([]service.DeliveryResult, error) {
	f.events = append(f.events, e)
	return f.results, f.err
}

func TestPaymentCompletedHandler_HandleMessage(t *testing.T) {
	ns := &fakeNotificationService{results: []service.DeliveryResult{
		{Kind: domain.NotificationReceipt, Recipient: "a@example.com"},
		{Kind: domain.NotificationAdminAlert, Recipient: "admin@example.com", Err: errors.New("smtp down")},
	}}
	h := NewPaymentCompletedHandler(ns)

	msg := []byte(`{"charge_id":"c1","amount":"25.00","payer_email":"a@example.com","admin_email":"admin@example.com"}`)
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.Len(t, ns.events, 1)
	assert.Equal(t, "c1", ns.events[0].ChargeID)
	assert.True(t, ns.events[0].Amount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, "admin@example.com", ns.events[0].AdminEmail)
}

func TestPaymentCompletedHandler_Errors(t *testing.T) {
	h := NewPaymentCompletedHandler(&fakeNotificationService{})
	assert.ErrorContains(t, h.HandleMessage(context.Background(), []byte("{")), "decode")

	h = NewPaymentCompletedHandler(&fakeNotificationService{err: errors.New("validation error")})
	assert.Error(t, h.Process(context.Background(), domain.PaymentCompleted{}))
}
