package memory

import (
	"context"
	"sync"

	"github.com/artloft/gallery/internal/inventory"
)

// MemoryLedger реализует Ledger используя in-memory хранилище
// Используется для разработки и тестирования
// В production заменяется на реализацию с MongoDB
type MemoryLedger struct {
	mu    sync.Mutex
	stock map[string]int32
}

// NewMemoryLedger создаёт новый in-memory ledger с начальными остатками
func NewMemoryLedger(initialStock map[string]int32) *MemoryLedger {
	stock := make(map[string]int32)
	for k, v := range initialStock {
		stock[k] = v
	}
	return &MemoryLedger{
		stock: stock,
	}
}

// GetStock получает текущий остаток товара из памяти
func (l *MemoryLedger) GetStock(ctx context.Context, productID string) (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	available, exists := l.stock[productID]
	if !exists {
		return 0, inventory.ErrNotFound
	}
	return available, nil
}

// Decrement атомарно уменьшает остаток под мьютексом
// Семантика совпадает с FindOneAndUpdate в MongoDB реализации
func (l *MemoryLedger) Decrement(ctx context.Context, productID string, qty int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	available, exists := l.stock[productID]
	if !exists {
		return inventory.ErrNotFound
	}
	if available < qty {
		return &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: available,
		}
	}

	l.stock[productID] = available - qty
	return nil
}
