package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cartmemory "github.com/artloft/gallery/internal/cart/memory"
	"github.com/artloft/gallery/internal/gateway"
	inventorymemory "github.com/artloft/gallery/internal/inventory/memory"
	"github.com/artloft/gallery/internal/repository"
	repomemory "github.com/artloft/gallery/internal/repository/memory"
	"github.com/artloft/gallery/internal/service"
	"github.com/artloft/gallery/internal/webhook"
)

const testWebhookSecret = "whsec_test"

// stubGateway реализует gateway.Client: всегда успешно создаёт intent
type stubGateway struct {
	err error
}

func (s *stubGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (gateway.Intent, error) {
	if s.err != nil {
		return gateway.Intent{}, s.err
	}
	return gateway.Intent{
		ID:           "pi_" + metadata["order_id"],
		ClientSecret: "secret",
		Amount:       amount,
		Currency:     currency,
		Status:       "requires_payment_method",
	}, nil
}

func (s *stubGateway) GetIntent(ctx context.Context, id string) (gateway.Intent, error) {
	return gateway.Intent{ID: id}, nil
}

// stubDispatcher реализует notifier.Dispatcher: молча принимает всё
type stubDispatcher struct{}

func (stubDispatcher) SendConfirmation(ctx context.Context, orderID string) error { return nil }
func (stubDispatcher) SendFailureNotice(ctx context.Context, orderID string) error {
	return nil
}
func (stubDispatcher) SendOversellAlert(ctx context.Context, orderID, productID string, qty int32) error {
	return nil
}

type testEnv struct {
	router http.Handler
	repo   *repomemory.MemoryRepository
}

func newTestEnv(t *testing.T, stock map[string]int32, gw gateway.Client) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	repo := repomemory.NewMemoryRepository()
	ledger := inventorymemory.NewMemoryLedger(stock)
	carts := cartmemory.NewMemoryStore()

	checkout := service.NewCheckoutService(logger, repo, ledger, gw, "usd")
	engine := service.NewEngine(logger, repo, ledger, carts, stubDispatcher{}, "gallery.order.events")
	verifier := webhook.NewVerifier(testWebhookSecret, webhook.DefaultTolerance)

	handler := NewHandler(logger, checkout, engine, verifier)
	router := NewRouter(handler, func() bool { return true }, nil)

	return &testEnv{router: router, repo: repo}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signWebhook подписывает payload так, как это делает шлюз
func signWebhook(ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func placeOrderRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-customer-id", "cust-1")
	return req
}

func TestPostOrders_Success(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 10}, &stubGateway{})

	rec := env.do(placeOrderRequest(`{
		"items": [
			{"product_id": "print-001", "quantity": 2, "unit_price": 4500}
		]
	}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp PlaceOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)
	require.Equal(t, "secret", resp.ClientSecret)
	require.Equal(t, int64(9000), resp.Amount)
	require.Equal(t, "awaiting_payment", resp.Status)
}

func TestPostOrders_NoSession(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[]}`))
	rec := env.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostOrders_BadRequests(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 10}, &stubGateway{})

	tests := []struct {
		name string
		body string
	}{
		{"broken json", `{"items": [`},
		{"missing items", `{}`},
		{"empty cart", `{"items": []}`},
		{"missing product id", `{"items": [{"quantity": 1, "unit_price": 100}]}`},
		{"missing quantity", `{"items": [{"product_id": "print-001", "unit_price": 100}]}`},
		{"zero quantity", `{"items": [{"product_id": "print-001", "quantity": 0, "unit_price": 100}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(placeOrderRequest(tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostOrders_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 1}, &stubGateway{})

	rec := env.do(placeOrderRequest(`{
		"items": [{"product_id": "print-001", "quantity": 5, "unit_price": 4500}]
	}`))
	require.Equal(t, http.StatusConflict, rec.Code)

	// В ошибке назван конкретный товар
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "print-001")
}

func TestPostOrders_GatewayUnavailable(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 10}, &stubGateway{err: gateway.ErrUnavailable})

	rec := env.do(placeOrderRequest(`{
		"items": [{"product_id": "print-001", "quantity": 1, "unit_price": 4500}]
	}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "try again")
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusPaid,
		Items: []repository.OrderItem{
			{ProductID: "print-001", Quantity: 2, UnitPrice: 4500},
		},
		Amount:     9000,
		Currency:   "usd",
		PaymentRef: "pi_123",
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	req.Header.Set("x-customer-id", "cust-1")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "order-1", resp.ID)
	require.Equal(t, "paid", resp.Status)
	require.Len(t, resp.Items, 1)
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/orders/no-such-order", nil)
	req.Header.Set("x-customer-id", "cust-1")
	rec := env.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostOrderCancel(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusAwaitingPayment,
		PaymentRef: "pi_123",
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/cancel", nil)
	req.Header.Set("x-customer-id", "cust-1")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := env.repo.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, repository.StatusCancelled, order.Status)
}

func TestPostOrderCancel_AfterPaid(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusPaid,
		PaymentRef: "pi_123",
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/cancel", nil)
	req.Header.Set("x-customer-id", "cust-1")
	rec := env.do(req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func webhookEvent(eventID, eventType, paymentRef string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":%d,"data":{"payment_intent":%q}}`,
		eventID, eventType, time.Now().Unix(), paymentRef,
	))
}

func postWebhook(env *testEnv, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBuffer(payload))
	req.Header.Set(SignatureHeader, signature)
	return env.do(req)
}

func TestPostPaymentWebhook_Applied(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 10}, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusAwaitingPayment,
		Items: []repository.OrderItem{
			{ProductID: "print-001", Quantity: 2, UnitPrice: 4500},
		},
		Amount:     9000,
		Currency:   "usd",
		PaymentRef: "pi_123",
	}))

	payload := webhookEvent("evt_1", "payment_succeeded", "pi_123")
	rec := postWebhook(env, payload, signWebhook(time.Now().Unix(), payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "applied", resp["status"])

	order, err := env.repo.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, order.Status)
}

func TestPostPaymentWebhook_DuplicateDelivery(t *testing.T) {
	env := newTestEnv(t, map[string]int32{"print-001": 10}, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusAwaitingPayment,
		Items: []repository.OrderItem{
			{ProductID: "print-001", Quantity: 2, UnitPrice: 4500},
		},
		PaymentRef: "pi_123",
	}))

	payload := webhookEvent("evt_1", "payment_succeeded", "pi_123")
	sig := signWebhook(time.Now().Unix(), payload)

	rec := postWebhook(env, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(env, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "duplicate", resp["status"])
}

func TestPostPaymentWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	payload := webhookEvent("evt_1", "payment_succeeded", "pi_123")
	rec := postWebhook(env, payload, "t=123,v1=deadbeef")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostPaymentWebhook_StaleEvent(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	payload := webhookEvent("evt_1", "payment_succeeded", "pi_123")
	stale := time.Now().Add(-time.Hour).Unix()
	rec := postWebhook(env, payload, signWebhook(stale, payload))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostPaymentWebhook_UnknownOrder(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	// Intent не наш: подтверждаем, чтобы шлюз перестал ретраить
	payload := webhookEvent("evt_1", "payment_succeeded", "pi_unknown")
	rec := postWebhook(env, payload, signWebhook(time.Now().Unix(), payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unknown_order", resp["status"])
}

func TestPostPaymentWebhook_InvalidTransition(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	require.NoError(t, env.repo.Create(context.Background(), repository.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		Status:     repository.StatusPaymentFailed,
		PaymentRef: "pi_123",
	}))

	payload := webhookEvent("evt_2", "payment_succeeded", "pi_123")
	rec := postWebhook(env, payload, signWebhook(time.Now().Unix(), payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "rejected", resp["status"])
}

func TestPostPaymentWebhook_UnrecognizedType(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	payload := webhookEvent("evt_1", "payment_intent.created", "pi_123")
	rec := postWebhook(env, payload, signWebhook(time.Now().Unix(), payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ignored", resp["status"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
}
