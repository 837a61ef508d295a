//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/artloft/gallery/internal/repository"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("gallery"),
		postgres.WithUsername("gallery_user"),
		postgres.WithPassword("gallery_password"),
	)
	require.NoError(t, err)
	defer func() {
		err := postgresContainer.Terminate(ctx)
		require.NoError(t, err)
	}()

	// Получаем DSN из контейнера
	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Открываем *sql.DB через pgx stdlib для goose миграций
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	// Вычисляем путь к migrations относительно текущего файла
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get current file path")

	// internal/repository/postgres -> internal/repository -> internal -> корень модуля
	testDir := filepath.Dir(filename)
	rootDir := filepath.Dir(filepath.Dir(filepath.Dir(testDir)))
	migrationsDir := filepath.Join(rootDir, "migrations")

	// Накатываем миграции через goose
	err = goose.UpContext(ctx, db, migrationsDir)
	require.NoError(t, err, "Failed to run migrations")

	// Создаём pgxpool для repository
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)

	newOrder := func(id, ref string) repository.Order {
		return repository.Order{
			ID:         id,
			CustomerID: "cust-1",
			Status:     repository.StatusAwaitingPayment,
			Items: []repository.OrderItem{
				{ProductID: "print-001", Quantity: 2, UnitPrice: 4500},
			},
			Amount:     9000,
			Currency:   "usd",
			PaymentRef: ref,
		}
	}

	t.Run("Create and GetByID", func(t *testing.T) {
		order := newOrder("order-1", "pi_1")

		err := repo.Create(ctx, order)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, order.ID, got.ID)
		require.Equal(t, order.CustomerID, got.CustomerID)
		require.Equal(t, repository.StatusAwaitingPayment, got.Status)
		require.Equal(t, order.Amount, got.Amount)
		require.Len(t, got.Items, 1)
		require.Equal(t, "print-001", got.Items[0].ProductID)
		require.Equal(t, int32(2), got.Items[0].Quantity)
	})

	t.Run("Create_Duplicate", func(t *testing.T) {
		err := repo.Create(ctx, newOrder("order-1", "pi_dup"))
		require.True(t, errors.Is(err, repository.ErrAlreadyExists), "Expected ErrAlreadyExists, got: %v", err)
	})

	t.Run("GetByPaymentRef", func(t *testing.T) {
		got, err := repo.GetByPaymentRef(ctx, "pi_1")
		require.NoError(t, err)
		require.Equal(t, "order-1", got.ID)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})

	t.Run("Transition with outbox", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newOrder("order-2", "pi_2")))

		err := repo.Transition(ctx, repository.TransitionRequest{
			OrderID: "order-2",
			From:    repository.StatusAwaitingPayment,
			To:      repository.StatusPaid,
			EventID: "evt_1",
			Outbox: &repository.OutboxEvent{
				EventID:     "out_1",
				EventType:   "order.paid",
				AggregateID: "order-2",
				Topic:       "gallery.order.events",
				Payload:     []byte(`{"order_id":"order-2"}`),
			},
		})
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "order-2")
		require.NoError(t, err)
		require.Equal(t, repository.StatusPaid, got.Status)
		require.Equal(t, "evt_1", got.LastEventID)

		// Outbox событие записано в той же транзакции
		pending, err := repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "out_1", pending[0].EventID)
		require.Equal(t, "order.paid", pending[0].EventType)

		// После отметки событие исчезает из pending
		require.NoError(t, repo.MarkOutboxEventSent(ctx, "out_1"))
		pending, err = repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("Transition_EventAlreadyApplied", func(t *testing.T) {
		err := repo.Transition(ctx, repository.TransitionRequest{
			OrderID: "order-2",
			From:    repository.StatusPaid,
			To:      repository.StatusFulfilled,
			EventID: "evt_1",
		})
		require.True(t, errors.Is(err, repository.ErrEventAlreadyApplied), "Expected ErrEventAlreadyApplied, got: %v", err)
	})

	t.Run("Transition_StatusConflict", func(t *testing.T) {
		err := repo.Transition(ctx, repository.TransitionRequest{
			OrderID: "order-2",
			From:    repository.StatusAwaitingPayment,
			To:      repository.StatusPaymentFailed,
			EventID: "evt_2",
		})
		require.True(t, errors.Is(err, repository.ErrStatusConflict), "Expected ErrStatusConflict, got: %v", err)
	})

	t.Run("Transition_NotFound", func(t *testing.T) {
		err := repo.Transition(ctx, repository.TransitionRequest{
			OrderID: "missing",
			From:    repository.StatusAwaitingPayment,
			To:      repository.StatusPaid,
			EventID: "evt_3",
		})
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})
}
