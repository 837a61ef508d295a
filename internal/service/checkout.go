package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/gateway"
	"github.com/artloft/gallery/internal/inventory"
	"github.com/artloft/gallery/internal/repository"
)

// CheckoutService — синхронный путь оформления заказа.
// Валидирует корзину, резервирует payment intent у шлюза и сохраняет заказ
// в статусе awaiting_payment. Заказ создаётся только после успешного ответа
// шлюза: висящий intent без заказа безвреден, заказ без intent-а — нет.
type CheckoutService struct {
	logger   *zap.Logger
	orders   repository.OrderRepository
	ledger   inventory.Ledger
	gateway  gateway.Client
	currency string
}

// NewCheckoutService создаёт новый CheckoutService
// Принимает интерфейсы как зависимости — это позволяет подменять их в тестах
func NewCheckoutService(
	logger *zap.Logger,
	orders repository.OrderRepository,
	ledger inventory.Ledger,
	gw gateway.Client,
	currency string,
) *CheckoutService {
	return &CheckoutService{
		logger:   logger,
		orders:   orders,
		ledger:   ledger,
		gateway:  gw,
		currency: currency,
	}
}

// PlaceOrderInput содержит входные данные для оформления заказа
// Items — снапшот корзины: количество и цена фиксируются на момент оформления
type PlaceOrderInput struct {
	CustomerID string
	Items      []repository.OrderItem
}

// PlaceOrderOutput содержит результат оформления заказа
type PlaceOrderOutput struct {
	OrderID string
	// ClientSecret — токен шлюза, с которым покупатель завершает оплату
	ClientSecret string
	Amount       int64
	Currency     string
}

// PlaceOrder оформляет заказ из снапшота корзины.
// Проверка остатков advisory: финальный декремент склада происходит только
// после подтверждения оплаты (reconciliation engine), резервирование не берётся.
func (s *CheckoutService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderOutput, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrInvalidCart, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: negative price for product %s", ErrInvalidCart, item.ProductID)
		}
	}

	// Advisory проверка остатков: ловим заведомо невыполнимые заказы,
	// гонку до подтверждения оплаты она не исключает
	for _, item := range input.Items {
		available, err := s.ledger.GetStock(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				return nil, &inventory.InsufficientStockError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: 0,
				}
			}
			return nil, fmt.Errorf("failed to check stock for product %s: %w", item.ProductID, err)
		}
		if available < item.Quantity {
			return nil, &inventory.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			}
		}
	}

	// Сумма из снапшотов цен: последующие изменения каталога заказ не трогают
	var amount int64
	for _, item := range input.Items {
		amount += item.UnitPrice * int64(item.Quantity)
	}

	orderID := uuid.NewString()

	intent, err := s.gateway.CreateIntent(ctx, amount, s.currency, map[string]string{
		"order_id":    orderID,
		"customer_id": input.CustomerID,
	})
	if err != nil {
		// Заказ не создаём: частичного состояния быть не должно
		s.logger.Error("failed to create payment intent",
			zap.Error(err),
			zap.String("customer_id", input.CustomerID),
			zap.Int64("amount", amount),
		)
		return nil, err
	}

	order := repository.Order{
		ID:         orderID,
		CustomerID: input.CustomerID,
		Status:     repository.StatusAwaitingPayment,
		Items:      input.Items,
		Amount:     amount,
		Currency:   s.currency,
		PaymentRef: intent.ID,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		// Intent уже создан на стороне шлюза; он останется висеть и истечёт сам —
		// это допустимо, обратного заказа без intent-а быть не может
		s.logger.Error("failed to persist order after intent creation",
			zap.Error(err),
			zap.String("order_id", orderID),
			zap.String("payment_ref", intent.ID),
		)
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	s.logger.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("customer_id", input.CustomerID),
		zap.String("payment_ref", intent.ID),
		zap.Int64("amount", amount),
		zap.String("currency", s.currency),
	)

	return &PlaceOrderOutput{
		OrderID:      orderID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     s.currency,
	}, nil
}

// GetOrder получает заказ по ID
func (s *CheckoutService) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}
