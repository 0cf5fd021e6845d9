package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *testEntity) GetID() string { return e.ID }

func setupTestDB(t *testing.T) *badger.DB {
	db, err := Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore[*testEntity](db, "test")
	other := NewBadgerStore[*testEntity](db, "other")

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, store.Create(&testEntity{ID: "a", Name: "first"}))
		require.NoError(t, store.Create(&testEntity{ID: "b", Name: "second"}))
		require.NoError(t, other.Create(&testEntity{ID: "a", Name: "elsewhere"}))

		err := store.Create(&testEntity{ID: "a"})
		assert.ErrorIs(t, err, ErrExists)

		assert.Error(t, store.Create(&testEntity{}))
	})

	t.Run("Get", func(t *testing.T) {
		got := &testEntity{}
		require.NoError(t, store.Get("a", got))
		assert.Equal(t, "first", got.Name)

		assert.ErrorIs(t, store.Get("missing", &testEntity{}), ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, store.Update(&testEntity{ID: "a", Name: "renamed"}))

		got := &testEntity{}
		require.NoError(t, store.Get("a", got))
		assert.Equal(t, "renamed", got.Name)

		assert.ErrorIs(t, store.Update(&testEntity{ID: "missing"}), ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		all, err := store.List(func() *testEntity { return &testEntity{} })
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "b", all[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("a"))
		assert.ErrorIs(t, store.Get("a", &testEntity{}), ErrNotFound)
		assert.ErrorIs(t, store.Delete("a"), ErrNotFound)

		// Same ID under another prefix is untouched
		require.NoError(t, other.Get("a", &testEntity{}))
	})
}

func TestBadgerStoreTxn(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore[*testEntity](db, "test")

	err := db.Update(func(txn *badger.Txn) error {
		require.NoError(t, store.CreateTxn(txn, &testEntity{ID: "a", Name: "first"}))

		got := &testEntity{}
		require.NoError(t, store.GetTxn(txn, "a", got))
		assert.Equal(t, "first", got.Name)
		assert.ErrorIs(t, store.GetTxn(txn, "missing", &testEntity{}), ErrNotFound)

		all, err := store.ListTxn(txn, func() *testEntity { return &testEntity{} })
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return store.DeleteTxn(txn, "a")
	})
	require.NoError(t, err)

	all, err := store.List(func() *testEntity { return &testEntity{} })
	require.NoError(t, err)
	assert.Empty(t, all)
}
