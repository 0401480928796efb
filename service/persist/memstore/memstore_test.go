package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekapu/go-rekapu/service/persist"
)

func TestStore_GetSetDelete(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	store := NewStore()

	_, err := store.Get(ctx, persist.CollectionCards, "c1")
	var notFound persist.ErrKeyNotFound
	require.ErrorAs(t, err, &notFound)
	a.Equal("c1", notFound.Key)

	require.NoError(t, store.Set(ctx, persist.CollectionCards, "c1", []byte(`{"id":"c1"}`)))
	value, err := store.Get(ctx, persist.CollectionCards, "c1")
	require.NoError(t, err)
	a.Equal(`{"id":"c1"}`, string(value))

	// same key in another collection is independent
	_, err = store.Get(ctx, persist.CollectionTags, "c1")
	a.Error(err)

	require.NoError(t, store.Delete(ctx, persist.CollectionCards, "c1"))
	_, err = store.Get(ctx, persist.CollectionCards, "c1")
	a.Error(err)

	// deleting again is a no-op
	a.NoError(store.Delete(ctx, persist.CollectionCards, "c1"))
}

func TestStore_CopiesOnReadAndWrite(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	store := NewStore()

	original := []byte(`{"id":"c1"}`)
	require.NoError(t, store.Set(ctx, persist.CollectionCards, "c1", original))
	original[0] = 'X'

	value, err := store.Get(ctx, persist.CollectionCards, "c1")
	require.NoError(t, err)
	a.Equal(`{"id":"c1"}`, string(value))

	value[0] = 'X'
	again, err := store.Get(ctx, persist.CollectionCards, "c1")
	require.NoError(t, err)
	a.Equal(`{"id":"c1"}`, string(again))
}

func TestStore_GetAll(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	store := NewStore()

	entries, err := store.GetAll(ctx, persist.CollectionCards)
	require.NoError(t, err)
	a.Empty(entries)

	require.NoError(t, store.Set(ctx, persist.CollectionCards, "c1", []byte("1")))
	require.NoError(t, store.Set(ctx, persist.CollectionCards, "c2", []byte("2")))
	require.NoError(t, store.Set(ctx, persist.CollectionTags, "t1", []byte("3")))

	entries, err = store.GetAll(ctx, persist.CollectionCards)
	require.NoError(t, err)
	a.Len(entries, 2)
	a.Equal("1", string(entries["c1"]))
	a.Equal("2", string(entries["c2"]))
}
