package inventory

import (
	"context"
	"errors"
	"fmt"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Ledger --dir=. --output=./mocks --outpkg=mocks

// Ledger определяет интерфейс складского учёта работ галереи
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type Ledger interface {
	// GetStock получает текущий остаток товара
	// Возвращает ErrNotFound, если товар не найден
	GetStock(ctx context.Context, productID string) (int32, error)

	// Decrement атомарно уменьшает остаток на qty.
	// Возвращает *InsufficientStockError, если остатка недостаточно —
	// остаток при этом не меняется и никогда не уходит в минус.
	Decrement(ctx context.Context, productID string, qty int32) error
}

// ErrNotFound возвращается, когда товар не найден в хранилище
var ErrNotFound = errors.New("product not found")

// InsufficientStockError возвращается, когда запрошенное количество превышает остаток
type InsufficientStockError struct {
	ProductID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
