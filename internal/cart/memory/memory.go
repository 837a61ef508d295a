package memory

import (
	"context"
	"sync"

	"github.com/artloft/gallery/internal/cart"
)

// MemoryStore реализует cart.Store используя in-memory map
// Используется для разработки и тестирования
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]map[string]int32 // customerID -> productID -> qty
}

// NewMemoryStore создаёт новый in-memory cart store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts: make(map[string]map[string]int32),
	}
}

// Get возвращает содержимое корзины покупателя
func (s *MemoryStore) Get(ctx context.Context, customerID string) ([]cart.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]cart.Item, 0)
	for productID, qty := range s.carts[customerID] {
		items = append(items, cart.Item{ProductID: productID, Quantity: qty})
	}
	return items, nil
}

// SetItem устанавливает количество товара в корзине (qty <= 0 удаляет позицию)
func (s *MemoryStore) SetItem(ctx context.Context, customerID, productID string, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.carts[customerID]
	if !exists {
		if qty <= 0 {
			return nil
		}
		c = make(map[string]int32)
		s.carts[customerID] = c
	}

	if qty <= 0 {
		delete(c, productID)
		return nil
	}
	c[productID] = qty
	return nil
}

// Clear удаляет корзину покупателя целиком
func (s *MemoryStore) Clear(ctx context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, customerID)
	return nil
}
