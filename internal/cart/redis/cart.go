package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/cart"
)

// cartTTL — время жизни брошенной корзины
const cartTTL = 30 * 24 * time.Hour

// CartStore реализует cart.Store используя Redis hash
// Ключ cart:<customer_id>, поля — product_id, значения — количество
type CartStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCartStore создаёт новый Redis cart store
func NewCartStore(client *redis.Client, logger *zap.Logger) *CartStore {
	return &CartStore{
		client: client,
		logger: logger,
	}
}

func cartKey(customerID string) string {
	return fmt.Sprintf("cart:%s", customerID)
}

// Get возвращает содержимое корзины покупателя из Redis hash
func (s *CartStore) Get(ctx context.Context, customerID string) ([]cart.Item, error) {
	fields, err := s.client.HGetAll(ctx, cartKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items := make([]cart.Item, 0, len(fields))
	for productID, qtyStr := range fields {
		qty, err := strconv.ParseInt(qtyStr, 10, 32)
		if err != nil {
			// Повреждённое поле пропускаем, но логируем
			s.logger.Warn("invalid cart quantity field",
				zap.String("customer_id", customerID),
				zap.String("product_id", productID),
				zap.String("value", qtyStr),
			)
			continue
		}
		items = append(items, cart.Item{ProductID: productID, Quantity: int32(qty)})
	}
	return items, nil
}

// SetItem устанавливает количество товара в корзине (qty <= 0 удаляет позицию)
func (s *CartStore) SetItem(ctx context.Context, customerID, productID string, qty int32) error {
	key := cartKey(customerID)

	if qty <= 0 {
		if err := s.client.HDel(ctx, key, productID).Err(); err != nil {
			return fmt.Errorf("failed to remove cart item: %w", err)
		}
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, productID, strconv.FormatInt(int64(qty), 10))
	pipe.Expire(ctx, key, cartTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set cart item: %w", err)
	}
	return nil
}

// Clear удаляет корзину покупателя целиком
func (s *CartStore) Clear(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, cartKey(customerID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	s.logger.Debug("cart cleared",
		zap.String("customer_id", customerID),
	)
	return nil
}
