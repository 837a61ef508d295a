package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artloft/gallery/internal/repository"
)

// Repository реализует OrderRepository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// Create сохраняет заказ в PostgreSQL
// Использует транзакцию для атомарного сохранения orders и order_items
func (r *Repository) Create(ctx context.Context, order repository.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, customer_id, status, amount, currency, payment_ref, last_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		order.ID, order.CustomerID, string(order.Status), order.Amount, order.Currency,
		order.PaymentRef, order.LastEventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return repository.ErrAlreadyExists
		}
		return err
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4)`,
			order.ID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID получает заказ по ID из PostgreSQL
func (r *Repository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	return r.getOrder(ctx, `WHERE id = $1`, id)
}

// GetByPaymentRef получает заказ по идентификатору payment intent
func (r *Repository) GetByPaymentRef(ctx context.Context, paymentRef string) (repository.Order, error) {
	return r.getOrder(ctx, `WHERE payment_ref = $1`, paymentRef)
}

// getOrder собирает order и order_items в доменную модель
func (r *Repository) getOrder(ctx context.Context, where string, arg any) (repository.Order, error) {
	var order repository.Order
	var status string
	var lastEventID *string

	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, status, amount, currency, payment_ref, last_event_id, created_at, updated_at
		 FROM orders `+where,
		arg).Scan(&order.ID, &order.CustomerID, &status, &order.Amount, &order.Currency,
		&order.PaymentRef, &lastEventID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}
	order.Status = repository.Status(status)
	if lastEventID != nil {
		order.LastEventID = *lastEventID
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY product_id`,
		order.ID)
	if err != nil {
		return repository.Order{}, err
	}
	defer rows.Close()

	order.Items = make([]repository.OrderItem, 0)
	for rows.Next() {
		var item repository.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return repository.Order{}, err
		}
		order.Items = append(order.Items, item)
	}
	if err = rows.Err(); err != nil {
		return repository.Order{}, err
	}

	return order, nil
}

// Transition применяет условный переход статуса одним UPDATE.
// Строка обновляется только если текущий статус равен req.From и событие req.EventID
// ещё не записано как последнее применённое — это и есть optimistic guard.
// Outbox событие (если задано) пишется в той же транзакции.
func (r *Repository) Transition(ctx context.Context, req repository.TransitionRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2,
		     last_event_id = COALESCE(NULLIF($3, ''), last_event_id),
		     updated_at = now()
		 WHERE id = $1
		   AND status = $4
		   AND ($3 = '' OR last_event_id IS DISTINCT FROM $3)`,
		req.OrderID, string(req.To), req.EventID, string(req.From))
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// Переход не прошёл: различаем причину по текущему состоянию строки
		var status string
		var lastEventID *string
		err := tx.QueryRow(ctx,
			`SELECT status, last_event_id FROM orders WHERE id = $1`,
			req.OrderID).Scan(&status, &lastEventID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		if req.EventID != "" && lastEventID != nil && *lastEventID == req.EventID {
			return repository.ErrEventAlreadyApplied
		}
		return repository.ErrStatusConflict
	}

	if req.Outbox != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_outbox (event_id, event_type, aggregate_id, topic, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			req.Outbox.EventID, req.Outbox.EventType, req.Outbox.AggregateID,
			req.Outbox.Topic, req.Outbox.Payload)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetPendingOutboxEvents возвращает неопубликованные события из outbox
func (r *Repository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, event_type, aggregate_id, topic, payload, created_at
		 FROM order_outbox
		 WHERE sent_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0)
	for rows.Next() {
		var ev repository.OutboxEvent
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.AggregateID, &ev.Topic, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkOutboxEventSent помечает событие outbox как опубликованное
func (r *Repository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE order_outbox SET sent_at = now() WHERE event_id = $1`,
		eventID)
	return err
}
