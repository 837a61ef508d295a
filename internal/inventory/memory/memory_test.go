package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artloft/gallery/internal/inventory"
)

func TestMemoryLedger_GetStock(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(map[string]int32{"print-001": 5})

	stock, err := ledger.GetStock(ctx, "print-001")
	require.NoError(t, err)
	require.Equal(t, int32(5), stock)

	_, err = ledger.GetStock(ctx, "missing")
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestMemoryLedger_Decrement(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(map[string]int32{"print-001": 5})

	require.NoError(t, ledger.Decrement(ctx, "print-001", 3))

	stock, err := ledger.GetStock(ctx, "print-001")
	require.NoError(t, err)
	require.Equal(t, int32(2), stock)

	// Больше остатка: остаток не меняется
	err = ledger.Decrement(ctx, "print-001", 3)
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int32(3), stockErr.Requested)
	require.Equal(t, int32(2), stockErr.Available)

	stock, err = ledger.GetStock(ctx, "print-001")
	require.NoError(t, err)
	require.Equal(t, int32(2), stock)

	err = ledger.Decrement(ctx, "missing", 1)
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestMemoryLedger_Decrement_Concurrent(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(map[string]int32{"print-001": 100})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.Decrement(ctx, "print-001", 1)
		}()
	}
	wg.Wait()

	stock, err := ledger.GetStock(ctx, "print-001")
	require.NoError(t, err)
	require.Equal(t, int32(0), stock)
}
