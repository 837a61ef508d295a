package repository

import (
	"context"
	"errors"
	"time"
)

// Status представляет статус заказа в платёжном жизненном цикле
type Status string

const (
	// StatusPending — заказ создан, но платёжный intent ещё не зарезервирован
	StatusPending Status = "pending"
	// StatusAwaitingPayment — intent создан, ждём webhook от платёжного шлюза
	StatusAwaitingPayment Status = "awaiting_payment"
	// StatusPaid — оплата подтверждена шлюзом
	StatusPaid Status = "paid"
	// StatusPaymentFailed — шлюз сообщил о неуспешной оплате
	StatusPaymentFailed Status = "payment_failed"
	// StatusFulfilled — оплаченный заказ передан в доставку
	StatusFulfilled Status = "fulfilled"
	// StatusCancelled — заказ отменён до оплаты
	StatusCancelled Status = "cancelled"
)

// Order представляет доменную модель заказа галереи
// Это бизнес-сущность, не привязанная к HTTP или БД
type Order struct {
	ID         string
	CustomerID string
	Status     Status
	Items      []OrderItem
	// Amount — итоговая сумма в минорных единицах валюты (центы)
	Amount   int64
	Currency string
	// PaymentRef — идентификатор payment intent на стороне шлюза.
	// Устанавливается один раз при создании заказа и больше не меняется.
	PaymentRef string
	// LastEventID — id последнего применённого webhook-события.
	// Каждый event id применяется к заказу не более одного раза.
	LastEventID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem представляет позицию заказа
// UnitPrice — снапшот цены на момент оформления, в минорных единицах
type OrderItem struct {
	ProductID string
	Quantity  int32
	UnitPrice int64
}

// OutboxEvent представляет событие, записываемое в outbox таблицу
// атомарно вместе с переходом статуса и публикуемое dispatcher-ом в Kafka
type OutboxEvent struct {
	EventID     string
	EventType   string
	AggregateID string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
}

// TransitionRequest описывает условный переход статуса заказа.
// Переход применяется только если текущий статус равен From и событие EventID
// ещё не применялось к заказу — это единственный writer per order id.
type TransitionRequest struct {
	OrderID string
	From    Status
	To      Status
	// EventID — id webhook-события, вызвавшего переход.
	// Пустая строка допустима для переходов не из webhook (отмена заказа).
	EventID string
	// Outbox — событие, записываемое в той же транзакции, что и переход (опционально)
	Outbox *OutboxEvent
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository определяет интерфейс для работы с хранилищем заказов
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type OrderRepository interface {
	// Create сохраняет новый заказ
	// Возвращает ErrAlreadyExists, если заказ с таким id уже есть
	Create(ctx context.Context, order Order) error

	// GetByID получает заказ по ID
	// Возвращает ErrNotFound, если заказ не найден
	GetByID(ctx context.Context, id string) (Order, error)

	// GetByPaymentRef получает заказ по идентификатору payment intent
	// Возвращает ErrNotFound, если заказ не найден
	GetByPaymentRef(ctx context.Context, paymentRef string) (Order, error)

	// Transition применяет условный переход статуса.
	// Возвращает ErrNotFound если заказа нет, ErrStatusConflict если текущий
	// статус не равен req.From, ErrEventAlreadyApplied если req.EventID уже
	// записан как последнее применённое событие заказа.
	Transition(ctx context.Context, req TransitionRequest) error

	// GetPendingOutboxEvents возвращает неопубликованные события из outbox
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxEventSent помечает событие outbox как опубликованное
	MarkOutboxEventSent(ctx context.Context, eventID string) error
}

// ErrNotFound возвращается, когда заказ не найден в хранилище
var ErrNotFound = errors.New("order not found")

// ErrAlreadyExists возвращается при попытке создать заказ с существующим id
var ErrAlreadyExists = errors.New("order already exists")

// ErrStatusConflict возвращается, когда условный переход не прошёл по статусу:
// текущий статус заказа не совпадает с ожидаемым (гонка или out-of-order событие)
var ErrStatusConflict = errors.New("order status conflict")

// ErrEventAlreadyApplied возвращается, когда событие с таким id уже применялось к заказу
var ErrEventAlreadyApplied = errors.New("event already applied")
