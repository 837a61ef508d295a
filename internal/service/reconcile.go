package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/cart"
	"github.com/artloft/gallery/internal/inventory"
	"github.com/artloft/gallery/internal/notifier"
	"github.com/artloft/gallery/internal/repository"
	"github.com/artloft/gallery/internal/webhook"
)

// Outcome описывает, чем закончилось применение события
type Outcome string

const (
	// OutcomeApplied — переход применён, side effects запущены
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate — событие уже применялось (redelivery), no-op
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored — тип события нам не известен, no-op
	OutcomeIgnored Outcome = "ignored"
)

// Result — результат применения события к заказу
type Result struct {
	Outcome Outcome
	OrderID string
	Status  repository.Status
}

// Engine — reconciliation engine: приводит локальный статус заказа в соответствие
// с исходом оплаты на стороне шлюза.
//
// Доставка webhook-ов at-least-once и возможно out-of-order, поэтому:
//   - применения к одному заказу сериализуются мьютексом на order id;
//   - переход коммитится условным update-ом репозитория (single writer);
//   - дедупликация по event id — единственный механизм exactly-once для side effects;
//   - порядок обеспечивается таблицей переходов, а не порядком доставки.
//
// Side effects (декремент склада, очистка корзины, письма) выполняются строго
// после durable коммита перехода и не откатывают его при своих ошибках.
type Engine struct {
	logger     *zap.Logger
	orders     repository.OrderRepository
	ledger     inventory.Ledger
	carts      cart.Store
	dispatcher notifier.Dispatcher
	locks      *keyedMutex
	// topic — Kafka топик, в который outbox dispatcher публикует события заказов
	topic string
}

// NewEngine создаёт новый reconciliation engine
// Все коллабораторы передаются интерфейсами — это позволяет подменять их в тестах
func NewEngine(
	logger *zap.Logger,
	orders repository.OrderRepository,
	ledger inventory.Ledger,
	carts cart.Store,
	dispatcher notifier.Dispatcher,
	topic string,
) *Engine {
	return &Engine{
		logger:     logger,
		orders:     orders,
		ledger:     ledger,
		carts:      carts,
		dispatcher: dispatcher,
		locks:      newKeyedMutex(),
		topic:      topic,
	}
}

// ApplyEvent применяет верифицированное событие шлюза к заказу.
// Возвращает ErrUnknownOrder, если payment intent нам не известен,
// *InvalidTransitionError, если событие недопустимо из текущего статуса.
// Повторная доставка события с тем же id — no-op (Result.Outcome = duplicate).
func (e *Engine) ApplyEvent(ctx context.Context, event webhook.Event) (Result, error) {
	if event.Type != webhook.EventPaymentSucceeded && event.Type != webhook.EventPaymentFailed {
		// Forward compatibility: новый тип события шлюза не должен ломать обработку
		e.logger.Info("ignoring unrecognized gateway event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	order, err := e.orders.GetByPaymentRef(ctx, event.PaymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Шлюз может ссылаться на intent, который мы не создавали
			e.logger.Warn("gateway event references unknown payment intent",
				zap.String("event_id", event.ID),
				zap.String("payment_ref", event.PaymentRef),
			)
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownOrder, event.PaymentRef)
		}
		return Result{}, fmt.Errorf("failed to resolve order: %w", err)
	}

	// Сериализуем применения к этому заказу
	unlock := e.locks.Lock(order.ID)
	defer unlock()

	// Перечитываем под локом: статус мог измениться, пока мы ждали
	order, err = e.orders.GetByID(ctx, order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reload order: %w", err)
	}

	// Idempotence guard: этот event id уже применялся
	if order.LastEventID == event.ID {
		e.logger.Info("event already applied, skipping",
			zap.String("event_id", event.ID),
			zap.String("order_id", order.ID),
		)
		return duplicateResult(order), nil
	}

	target, err := e.resolveTarget(order, event)
	if err != nil {
		return Result{}, err
	}
	if target == "" {
		// Эффект события уже достигнут другим событием (redelivery с новым id)
		return duplicateResult(order), nil
	}

	outboxEvent, err := e.buildOutboxEvent(order, event, target)
	if err != nil {
		return Result{}, err
	}

	err = e.orders.Transition(ctx, repository.TransitionRequest{
		OrderID: order.ID,
		From:    repository.StatusAwaitingPayment,
		To:      target,
		EventID: event.ID,
		Outbox:  outboxEvent,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrEventAlreadyApplied):
		return duplicateResult(order), nil
	case errors.Is(err, repository.ErrStatusConflict):
		// Гонка: статус изменился между чтением и update-ом. Перечитываем и решаем заново.
		current, getErr := e.orders.GetByID(ctx, order.ID)
		if getErr != nil {
			return Result{}, fmt.Errorf("failed to reload order after conflict: %w", getErr)
		}
		if current.LastEventID == event.ID || statusSatisfies(current.Status, target) {
			return duplicateResult(current), nil
		}
		e.logger.Warn("transition rejected by state table",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("order_id", current.ID),
			zap.String("status", string(current.Status)),
		)
		return Result{}, &InvalidTransitionError{
			OrderID:   current.ID,
			Status:    current.Status,
			EventType: event.Type,
		}
	default:
		return Result{}, fmt.Errorf("failed to commit transition: %w", err)
	}

	e.logger.Info("order transition committed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("order_id", order.ID),
		zap.String("status", string(target)),
	)

	// Side effects после коммита; их ошибки переход не откатывают
	switch target {
	case repository.StatusPaid:
		e.onPaid(ctx, order)
	case repository.StatusPaymentFailed:
		e.onPaymentFailed(ctx, order)
	}

	return Result{Outcome: OutcomeApplied, OrderID: order.ID, Status: target}, nil
}

// resolveTarget валидирует событие против таблицы переходов.
// Возвращает целевой статус; пустой статус означает no-op (эффект уже достигнут).
func (e *Engine) resolveTarget(order repository.Order, event webhook.Event) (repository.Status, error) {
	var target repository.Status
	switch event.Type {
	case webhook.EventPaymentSucceeded:
		target = repository.StatusPaid
	case webhook.EventPaymentFailed:
		target = repository.StatusPaymentFailed
	}

	if statusSatisfies(order.Status, target) {
		return "", nil
	}
	if order.Status != repository.StatusAwaitingPayment {
		e.logger.Warn("transition rejected by state table",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
		return "", &InvalidTransitionError{
			OrderID:   order.ID,
			Status:    order.Status,
			EventType: event.Type,
		}
	}
	return target, nil
}

// statusSatisfies: событие с целевым статусом target не может повторно войти
// в текущий статус — применение было бы no-op. fulfilled — это paid,
// переданный в доставку: исход оплаты для отгруженного заказа уже решён,
// запоздавшее событие об оплате (успех или отказ) ничего не меняет.
func statusSatisfies(current, target repository.Status) bool {
	if current == target {
		return true
	}
	if current != repository.StatusFulfilled {
		return false
	}
	return target == repository.StatusPaid || target == repository.StatusPaymentFailed
}

// buildOutboxEvent формирует событие для публикации в Kafka после коммита перехода
func (e *Engine) buildOutboxEvent(order repository.Order, event webhook.Event, target repository.Status) (*repository.OutboxEvent, error) {
	eventType := "order.paid"
	if target == repository.StatusPaymentFailed {
		eventType = "order.payment_failed"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event_id":      uuid.NewString(),
		"event_type":    eventType,
		"event_version": 1,
		"occurred_at":   time.Now().UTC().Format(time.RFC3339),
		"order_id":      order.ID,
		"customer_id":   order.CustomerID,
		"amount":        order.Amount,
		"currency":      order.Currency,
		"gateway_event": event.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	return &repository.OutboxEvent{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: order.ID,
		Topic:       e.topic,
		Payload:     payload,
	}, nil
}

// onPaid выполняет side effects подтверждённой оплаты:
// декремент склада по каждой позиции, очистка корзины, письмо-подтверждение
func (e *Engine) onPaid(ctx context.Context, order repository.Order) {
	for _, item := range order.Items {
		err := e.ledger.Decrement(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}

		var insufficientErr *inventory.InsufficientStockError
		if errors.As(err, &insufficientErr) {
			// Oversell: оплата уже принята шлюзом, отменить её отсюда нельзя.
			// Заказ остаётся paid, операторы получают алерт и разбираются руками.
			e.logger.Error("oversell detected on paid order",
				zap.String("order_id", order.ID),
				zap.String("product_id", item.ProductID),
				zap.Int32("requested", item.Quantity),
				zap.Int32("available", insufficientErr.Available),
			)
			if alertErr := e.dispatcher.SendOversellAlert(ctx, order.ID, item.ProductID, item.Quantity); alertErr != nil {
				e.logger.Error("failed to send oversell alert",
					zap.Error(alertErr),
					zap.String("order_id", order.ID),
				)
			}
			continue
		}

		e.logger.Error("failed to decrement inventory",
			zap.Error(err),
			zap.String("order_id", order.ID),
			zap.String("product_id", item.ProductID),
		)
	}

	if err := e.carts.Clear(ctx, order.CustomerID); err != nil {
		e.logger.Error("failed to clear customer cart",
			zap.Error(err),
			zap.String("order_id", order.ID),
			zap.String("customer_id", order.CustomerID),
		)
	}

	if err := e.dispatcher.SendConfirmation(ctx, order.ID); err != nil {
		e.logger.Error("failed to send confirmation",
			zap.Error(err),
			zap.String("order_id", order.ID),
		)
	}
}

// onPaymentFailed выполняет единственный side effect неуспешной оплаты
func (e *Engine) onPaymentFailed(ctx context.Context, order repository.Order) {
	if err := e.dispatcher.SendFailureNotice(ctx, order.ID); err != nil {
		e.logger.Error("failed to send failure notice",
			zap.Error(err),
			zap.String("order_id", order.ID),
		)
	}
}

// MarkFulfilled переводит оплаченный заказ в fulfilled.
// Вызывается fulfillment consumer-ом; повторная доставка события — no-op.
// Инвентарь не трогается: fulfillment — логистический сигнал, не финансовый.
func (e *Engine) MarkFulfilled(ctx context.Context, orderID, eventID string) (Result, error) {
	unlock := e.locks.Lock(orderID)
	defer unlock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: order %s", ErrUnknownOrder, orderID)
		}
		return Result{}, err
	}

	if order.LastEventID == eventID || order.Status == repository.StatusFulfilled {
		return duplicateResult(order), nil
	}
	if order.Status != repository.StatusPaid {
		return Result{}, &InvalidTransitionError{
			OrderID:   order.ID,
			Status:    order.Status,
			EventType: "fulfillment.completed",
		}
	}

	err = e.orders.Transition(ctx, repository.TransitionRequest{
		OrderID: orderID,
		From:    repository.StatusPaid,
		To:      repository.StatusFulfilled,
		EventID: eventID,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrEventAlreadyApplied), errors.Is(err, repository.ErrStatusConflict):
		return duplicateResult(order), nil
	default:
		return Result{}, fmt.Errorf("failed to commit fulfillment transition: %w", err)
	}

	e.logger.Info("order fulfilled",
		zap.String("order_id", orderID),
		zap.String("event_id", eventID),
	)
	return Result{Outcome: OutcomeApplied, OrderID: orderID, Status: repository.StatusFulfilled}, nil
}

// Cancel отменяет заказ до оплаты (pending или awaiting_payment).
// После подтверждения оплаты отмена через этот путь невозможна.
func (e *Engine) Cancel(ctx context.Context, orderID string) (Result, error) {
	unlock := e.locks.Lock(orderID)
	defer unlock()

	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return Result{}, err
	}

	if order.Status == repository.StatusCancelled {
		return duplicateResult(order), nil
	}
	if order.Status != repository.StatusPending && order.Status != repository.StatusAwaitingPayment {
		return Result{}, &InvalidTransitionError{
			OrderID:   order.ID,
			Status:    order.Status,
			EventType: "order.cancel",
		}
	}

	err = e.orders.Transition(ctx, repository.TransitionRequest{
		OrderID: orderID,
		From:    order.Status,
		To:      repository.StatusCancelled,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusConflict):
		current, getErr := e.orders.GetByID(ctx, orderID)
		if getErr != nil {
			return Result{}, getErr
		}
		if current.Status == repository.StatusCancelled {
			return duplicateResult(current), nil
		}
		return Result{}, &InvalidTransitionError{
			OrderID:   current.ID,
			Status:    current.Status,
			EventType: "order.cancel",
		}
	default:
		return Result{}, fmt.Errorf("failed to cancel order: %w", err)
	}

	e.logger.Info("order cancelled", zap.String("order_id", orderID))
	return Result{Outcome: OutcomeApplied, OrderID: orderID, Status: repository.StatusCancelled}, nil
}

func duplicateResult(order repository.Order) Result {
	return Result{Outcome: OutcomeDuplicate, OrderID: order.ID, Status: order.Status}
}
