package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/shared/logger"
	"github.com/cuongbtq/repairshop-worker/shared/sqlite"
)

type invoiceRecord struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	client, err := sqlite.NewClient(context.Background(), &sqlite.Config{Path: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewSQLStore(client.GetDB(), logger.Discard())
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    newSQLStore(t),
	}
}

func TestKey(t *testing.T) {
	a := Key("job-1", "invoice")
	assert.Equal(t, a, Key("job-1", "invoice"))
	assert.NotEqual(t, a, Key("job-2", "invoice"))
	assert.NotEqual(t, a, Key("job-1", "membership"))
	assert.Len(t, a, 36)
}

func TestStore_PutKeepsFirstResult(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, "k1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Put(ctx, "k1", "job-1", []byte(`{"id":"in_1"}`)))
			require.NoError(t, store.Put(ctx, "k1", "job-1", []byte(`{"id":"in_2"}`)))

			data, ok, err := store.Get(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"id":"in_1"}`, string(data))
		})
	}
}

func TestRemember(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("job-9", "invoice")
			calls := 0

			create := func(ctx context.Context) (invoiceRecord, error) {
				calls++
				return invoiceRecord{ID: "in_123", Amount: 45000}, nil
			}

			first, reused, err := Remember(ctx, store, key, "job-9", create)
			require.NoError(t, err)
			assert.False(t, reused)

			// redelivery of the same job
			second, reused, err := Remember(ctx, store, key, "job-9", create)
			require.NoError(t, err)
			assert.True(t, reused)

			assert.Equal(t, first, second)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRemember_ErrorIsNotStored(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("provider unavailable")

	_, _, err := Remember(ctx, store, "k", "job-1", func(ctx context.Context) (invoiceRecord, error) {
		return invoiceRecord{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())

	got, reused, err := Remember(ctx, store, "k", "job-1", func(ctx context.Context) (invoiceRecord, error) {
		return invoiceRecord{ID: "in_ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "in_ok", got.ID)
}

func TestRemember_EmptyKey(t *testing.T) {
	_, _, err := Remember(context.Background(), NewMemoryStore(), "", "job-1", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrEmptyKey)
}
