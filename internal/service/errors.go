package service

import (
	"errors"
	"fmt"

	"github.com/artloft/gallery/internal/repository"
)

// ErrInvalidCart возвращается при пустой корзине или позиции с неположительным количеством
var ErrInvalidCart = errors.New("invalid cart")

// ErrUnknownOrder возвращается, когда webhook ссылается на payment intent,
// для которого у нас нет заказа (например, stale тестовые данные на стороне шлюза).
// Логируется как аномалия, но не ретраится.
var ErrUnknownOrder = errors.New("no order for payment reference")

// InvalidTransitionError возвращается, когда событие требует перехода,
// недопустимого из текущего статуса заказа (out-of-order доставка, replay
// или баг шлюза). Заказ при этом не меняется.
type InvalidTransitionError struct {
	OrderID   string
	Status    repository.Status
	EventType string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q is not applicable to order %s in status %q",
		e.EventType, e.OrderID, e.Status)
}
