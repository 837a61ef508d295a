package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/artloft/gallery/internal/inventory"
)

// StockDocument представляет документ в коллекции MongoDB
type StockDocument struct {
	ProductID string    `bson:"product_id"`
	Stock     int32     `bson:"stock"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Ledger реализует inventory.Ledger используя MongoDB
type Ledger struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewLedger создаёт новый MongoDB ledger
// Создаёт уникальный индекс на product_id при инициализации
func NewLedger(client *mongo.Client, dbName string) *Ledger {
	col := client.Database(dbName).Collection("inventory")

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "product_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Если индекс уже существует — игнорируем ошибку
	_, _ = col.Indexes().CreateOne(ctx, indexModel)

	return &Ledger{
		client: client,
		col:    col,
	}
}

// GetStock получает текущий остаток товара из MongoDB
// Возвращает ErrNotFound, если товар не найден
func (l *Ledger) GetStock(ctx context.Context, productID string) (int32, error) {
	var doc StockDocument
	err := l.col.FindOne(ctx, bson.M{"product_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, inventory.ErrNotFound
		}
		return 0, err
	}
	return doc.Stock, nil
}

// Decrement атомарно уменьшает остаток
// Использует FindOneAndUpdate с фильтром stock >= qty: остаток либо уменьшается
// целиком, либо не меняется вовсе — в минус уйти невозможно
func (l *Ledger) Decrement(ctx context.Context, productID string, qty int32) error {
	filter := bson.M{
		"product_id": productID,
		"stock":      bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc": bson.M{"stock": -qty},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated StockDocument
	err := l.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	// Документ не подошёл под фильтр: либо товара нет, либо остатка недостаточно
	available, getErr := l.GetStock(ctx, productID)
	if getErr != nil {
		return getErr
	}
	return &inventory.InsufficientStockError{
		ProductID: productID,
		Requested: qty,
		Available: available,
	}
}
