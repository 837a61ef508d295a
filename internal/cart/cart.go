package cart

import "context"

// Item представляет позицию корзины покупателя
type Item struct {
	ProductID string
	Quantity  int32
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Store --dir=. --output=./mocks --outpkg=mocks

// Store определяет интерфейс хранилища корзин
// Reconciliation engine очищает корзину покупателя после подтверждённой оплаты
type Store interface {
	// Get возвращает содержимое корзины покупателя (пустой slice, если корзины нет)
	Get(ctx context.Context, customerID string) ([]Item, error)

	// SetItem устанавливает количество товара в корзине (qty <= 0 удаляет позицию)
	SetItem(ctx context.Context, customerID, productID string, qty int32) error

	// Clear удаляет корзину покупателя целиком
	Clear(ctx context.Context, customerID string) error
}
