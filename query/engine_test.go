package query

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Open(ctx, ":memory:", 8, `[!-)+-9;-~]+`)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	trie := hashtrie.New(8)
	e, err := New(ctx, &sync.Mutex{}, cat, trie)
	require.NoError(t, err)
	return e
}

func insert(t *testing.T, e *Engine, uid uuid.UUID, hash int64, author string, cols ...string) {
	t.Helper()
	rec := &catalog.Record{
		UID:         uid,
		Hash:        big.NewInt(hash),
		Collections: catalog.NewStringSet(cols...),
	}
	if author != "" {
		rec.Authors = []string{author}
	}
	require.NoError(t, e.Catalog.Insert(context.Background(), rec))
	err := e.Trie.Add(rec.Hash)
	if err != nil {
		require.ErrorIs(t, err, hashtrie.ErrDuplicateHash)
	}
}

func TestQueryFiltersByAuthorAndCollection(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	uidA, uidB := uuid.New(), uuid.New()
	insert(t, e, uidA, 1, "alice", "trip")
	insert(t, e, uidB, 2, "bob", "trip")

	author := "alice"
	got, err := e.Query(ctx, Options{Author: &author})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{uidA}, got)

	got, err = e.Query(ctx, Options{Keyword: []string{"collection:trip"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestQueryNotKeywordExcludes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	uidA, uidB := uuid.New(), uuid.New()
	insert(t, e, uidA, 3, "alice")
	insert(t, e, uidB, 4, "bob")

	got, err := e.Query(ctx, Options{NotKeyword: []string{"author:alice"}})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{uidB}, got)
}

func TestQueryLimit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		insert(t, e, uuid.New(), int64(10+i), "")
	}
	got, err := e.Query(ctx, Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSimilarByHashFindsExactAndNearby(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	uidExact := uuid.New()
	uidNear := uuid.New()
	insert(t, e, uidExact, 0b00001111, "")
	insert(t, e, uidNear, 0b00001110, "")

	results, err := e.SimilarByHash(ctx, big.NewInt(0b00001111), 1.0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uidExact, results[0].UID)
	require.Equal(t, 1.0, results[0].Similarity)

	results, err = e.SimilarByHash(ctx, big.NewInt(0b00001111), 0.5, 10)
	require.NoError(t, err)
	found := map[uuid.UUID]bool{}
	for _, r := range results {
		found[r.UID] = true
	}
	require.True(t, found[uidExact])
	require.True(t, found[uidNear])
}

func TestSimilarByHashRejectsBadThreshold(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SimilarByHash(context.Background(), big.NewInt(1), 1.5, 10)
	require.Error(t, err)
}

func TestTagCompleteCaches(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	insert(t, e, uuid.New(), 1, "alice", "trip")

	got, err := e.TagComplete(ctx, "collection:")
	require.NoError(t, err)
	require.Equal(t, []string{"collection:trip"}, got)

	got2, err := e.TagComplete(ctx, "collection:")
	require.NoError(t, err)
	require.Equal(t, []string{"collection:trip"}, got2)
}
