package notifier

import "context"

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Dispatcher --dir=. --output=./mocks --outpkg=mocks

// Dispatcher определяет интерфейс отправки уведомлений о заказах.
// Все методы best-effort: ошибка отправки логируется, но никогда не откатывает
// уже закоммиченный переход статуса заказа.
type Dispatcher interface {
	// SendConfirmation отправляет покупателю подтверждение оплаты заказа
	SendConfirmation(ctx context.Context, orderID string) error

	// SendFailureNotice отправляет покупателю уведомление о неуспешной оплате
	SendFailureNotice(ctx context.Context, orderID string) error

	// SendOversellAlert отправляет операторам алерт: оплата принята,
	// но остатка на складе не хватило (гонка со времени advisory-проверки)
	SendOversellAlert(ctx context.Context, orderID, productID string, qty int32) error
}
