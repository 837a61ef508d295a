package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/authctx"
	"github.com/artloft/gallery/internal/gateway"
	"github.com/artloft/gallery/internal/inventory"
	"github.com/artloft/gallery/internal/repository"
	"github.com/artloft/gallery/internal/service"
	"github.com/artloft/gallery/internal/webhook"
	"github.com/artloft/gallery/platform/observability"
)

// maxWebhookBody ограничивает размер тела webhook запроса
const maxWebhookBody = 1 << 20 // 1MB

// SignatureHeader — заголовок с подписью webhook-а от платёжного шлюза
const SignatureHeader = "Gallery-Signature"

// Handler содержит HTTP-обработчики storefront-а
// Зависит от service слоя, но не знает о деталях реализации (БД, Kafka и т.д.)
type Handler struct {
	logger   *zap.Logger
	checkout *service.CheckoutService
	engine   *service.Engine
	verifier *webhook.Verifier
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, checkout *service.CheckoutService, engine *service.Engine, verifier *webhook.Verifier) *Handler {
	return &Handler{
		logger:   logger,
		checkout: checkout,
		engine:   engine,
		verifier: verifier,
	}
}

// OrderItem представляет позицию заказа в HTTP запросе/ответе
// UnitPrice — в минорных единицах валюты
type OrderItem struct {
	ProductID *string `json:"product_id"`
	Quantity  *int32  `json:"quantity"`
	UnitPrice *int64  `json:"unit_price"`
}

// PlaceOrderRequest представляет HTTP запрос на оформление заказа
type PlaceOrderRequest struct {
	Items *[]OrderItem `json:"items"`
}

// PlaceOrderResponse представляет HTTP ответ на оформление заказа
type PlaceOrderResponse struct {
	OrderID      string `json:"order_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// OrderResponse представляет HTTP ответ с информацией о заказе
type OrderResponse struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Items    []OrderItem `json:"items"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
}

// errorResponse — единый формат тела ошибки
type errorResponse struct {
	Error string `json:"error"`
}

// PostOrders обрабатывает POST /orders — оформление заказа из снапшота корзины
func (h *Handler) PostOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, h.logger)

	customerID, ok := authctx.CustomerIDFromContext(ctx)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "customer id is required")
		return
	}

	var reqBody PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reqBody.Items == nil {
		writeJSONError(w, http.StatusBadRequest, "items are required")
		return
	}

	items := make([]repository.OrderItem, 0, len(*reqBody.Items))
	for _, item := range *reqBody.Items {
		if item.ProductID == nil || *item.ProductID == "" {
			writeJSONError(w, http.StatusBadRequest, "product_id is required for every item")
			return
		}
		if item.Quantity == nil || item.UnitPrice == nil {
			writeJSONError(w, http.StatusBadRequest, "quantity and unit_price are required for every item")
			return
		}
		items = append(items, repository.OrderItem{
			ProductID: *item.ProductID,
			Quantity:  *item.Quantity,
			UnitPrice: *item.UnitPrice,
		})
	}

	result, err := h.checkout.PlaceOrder(ctx, service.PlaceOrderInput{
		CustomerID: customerID,
		Items:      items,
	})
	if err != nil {
		h.writeCheckoutError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, PlaceOrderResponse{
		OrderID:      result.OrderID,
		ClientSecret: result.ClientSecret,
		Amount:       result.Amount,
		Currency:     result.Currency,
		Status:       string(repository.StatusAwaitingPayment),
	})
}

// writeCheckoutError транслирует ошибки checkout-а в HTTP статусы.
// Нехватка остатка называет конкретный товар, недоступность шлюза — generic "try again".
func (h *Handler) writeCheckoutError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var insufficientErr *inventory.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrInvalidCart):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficientErr):
		writeJSONError(w, http.StatusConflict, insufficientErr.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		logger.Error("checkout failed: gateway unavailable", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "payment service is temporarily unavailable, please try again")
	default:
		logger.Error("checkout failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// GetOrder обрабатывает GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, h.logger)

	order, err := h.checkout.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "order not found")
			return
		}
		logger.Error("failed to get order", zap.Error(err), zap.String("order_id", id))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		productID := item.ProductID
		quantity := item.Quantity
		unitPrice := item.UnitPrice
		items = append(items, OrderItem{
			ProductID: &productID,
			Quantity:  &quantity,
			UnitPrice: &unitPrice,
		})
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		ID:       order.ID,
		Status:   string(order.Status),
		Items:    items,
		Amount:   order.Amount,
		Currency: order.Currency,
	})
}

// PostOrderCancel обрабатывает POST /orders/{id}/cancel — отмена до оплаты
func (h *Handler) PostOrderCancel(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, h.logger)

	result, err := h.engine.Cancel(ctx, id)
	if err != nil {
		var transitionErr *service.InvalidTransitionError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "order not found")
		case errors.As(err, &transitionErr):
			writeJSONError(w, http.StatusConflict, transitionErr.Error())
		default:
			logger.Error("failed to cancel order", zap.Error(err), zap.String("order_id", id))
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"order_id": result.OrderID,
		"status":   string(result.Status),
	})
}

// PostPaymentWebhook обрабатывает POST /webhooks/payment — события платёжного шлюза.
// Ответы подобраны под retry-политику шлюза:
//   - 400 — подпись/свежесть не прошли, состояние не тронуто, retry бессмыслен;
//   - 200 — событие применено или no-op (duplicate, unknown intent, illegal
//     transition): шлюз должен перестать ретраить;
//   - 500 — внутренний сбой после верификации: retry безопасен благодаря
//     idempotence guard.
func (h *Handler) PostPaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, h.logger)

	rawPayload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := h.verifier.Verify(rawPayload, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureInvalid):
			logger.Warn("webhook rejected: invalid signature")
			writeJSONError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, webhook.ErrStaleEvent):
			logger.Warn("webhook rejected: stale event", zap.Error(err))
			writeJSONError(w, http.StatusBadRequest, "stale event")
		default:
			logger.Warn("webhook rejected: malformed payload", zap.Error(err))
			writeJSONError(w, http.StatusBadRequest, "malformed payload")
		}
		return
	}

	result, err := h.engine.ApplyEvent(ctx, event)
	if err != nil {
		var transitionErr *service.InvalidTransitionError
		switch {
		case errors.Is(err, service.ErrUnknownOrder):
			// Аномалия уже залогирована engine-ом; подтверждаем, чтобы шлюз не ретраил
			writeJSON(w, http.StatusOK, map[string]string{"received": "true", "status": "unknown_order"})
		case errors.As(err, &transitionErr):
			writeJSON(w, http.StatusOK, map[string]string{"received": "true", "status": "rejected"})
		default:
			logger.Error("webhook processing failed",
				zap.Error(err),
				zap.String("event_id", event.ID),
			)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"received": "true",
		"status":   string(result.Outcome),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
