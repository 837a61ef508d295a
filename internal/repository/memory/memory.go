package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artloft/gallery/internal/repository"
)

// MemoryRepository реализует OrderRepository используя in-memory хранилище
// Используется для разработки и тестирования
// В production заменяется на реализацию с PostgreSQL
type MemoryRepository struct {
	mu         sync.RWMutex
	orders     map[string]repository.Order
	byRef      map[string]string // paymentRef -> orderID
	outbox     []repository.OutboxEvent
	outboxSent map[string]bool
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:     make(map[string]repository.Order),
		byRef:      make(map[string]string),
		outboxSent: make(map[string]bool),
	}
}

// Create сохраняет новый заказ в памяти
func (r *MemoryRepository) Create(ctx context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repository.ErrAlreadyExists
	}

	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	r.orders[order.ID] = order
	if order.PaymentRef != "" {
		r.byRef[order.PaymentRef] = order.ID
	}
	return nil
}

// GetByID получает заказ по ID из памяти
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	return order, nil
}

// GetByPaymentRef получает заказ по идентификатору payment intent
func (r *MemoryRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byRef[paymentRef]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	return r.orders[id], nil
}

// Transition применяет условный переход статуса атомарно под мьютексом
// Семантика совпадает с условным UPDATE в PostgreSQL реализации
func (r *MemoryRepository) Transition(ctx context.Context, req repository.TransitionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[req.OrderID]
	if !exists {
		return repository.ErrNotFound
	}
	if req.EventID != "" && order.LastEventID == req.EventID {
		return repository.ErrEventAlreadyApplied
	}
	if order.Status != req.From {
		return repository.ErrStatusConflict
	}

	order.Status = req.To
	if req.EventID != "" {
		order.LastEventID = req.EventID
	}
	order.UpdatedAt = time.Now()
	r.orders[req.OrderID] = order

	if req.Outbox != nil {
		ev := *req.Outbox
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now()
		}
		r.outbox = append(r.outbox, ev)
	}
	return nil
}

// GetPendingOutboxEvents возвращает неопубликованные события из памяти
func (r *MemoryRepository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]repository.OutboxEvent, 0)
	for _, ev := range r.outbox {
		if r.outboxSent[ev.EventID] {
			continue
		}
		pending = append(pending, ev)
		if len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

// MarkOutboxEventSent помечает событие как опубликованное
func (r *MemoryRepository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outboxSent[eventID] = true
	return nil
}
