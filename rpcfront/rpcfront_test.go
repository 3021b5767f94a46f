package rpcfront

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
	"github.com/nightfall-oss/cutespam/query"
	"github.com/nightfall-oss/cutespam/synchronizer"
)

const testHashBits = 8

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cat, err := catalog.Open(ctx, ":memory:", testHashBits, `[!-)+-9;-~]+`)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	trie := hashtrie.New(testHashBits)
	lock := &sync.Mutex{}
	engine, err := query.New(ctx, lock, cat, trie)
	require.NoError(t, err)
	sync_ := synchronizer.New(lock, cat, trie, dir, []string{".jpg"}, testHashBits)

	return &Server{
		Lock:         lock,
		Catalog:      cat,
		Engine:       engine,
		Synchronizer: sync_,
		HashBits:     testHashBits,
	}, dir
}

func startTestServer(t *testing.T, srv *Server, dir string) string {
	t.Helper()
	socketPath := filepath.Join(dir, "cutespamd.sock")
	l, err := Listen(socketPath)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go Serve(ctx, l, srv)
	t.Cleanup(cancel)
	return socketPath
}

func TestPingRoundTrip(t *testing.T) {
	srv, dir := newTestServer(t)
	socketPath := startTestServer(t, srv, dir)

	client, err := Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer client.Close()

	got, err := client.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pong", got)
}

func TestDialNoServerReturnsErrNoServer(t *testing.T) {
	dir := t.TempDir()
	_, err := Dial(context.Background(), filepath.Join(dir, "nothing.sock"))
	require.ErrorIs(t, err, ErrNoServer)
}

func TestGetAndUpdateRoundTrip(t *testing.T) {
	srv, dir := newTestServer(t)
	socketPath := startTestServer(t, srv, dir)
	ctx := context.Background()

	uid := uuid.New()
	rec := &catalog.Record{
		UID:     uid,
		Hash:    big.NewInt(0x2a),
		Caption: "before",
		Authors: []string{"alice"},
	}
	require.NoError(t, srv.Catalog.Insert(ctx, rec))

	client, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer client.Close()

	got, err := client.Get(ctx, uid.String())
	require.NoError(t, err)
	require.Equal(t, "before", got.Caption)

	got.Caption = "after"
	updated, err := client.Update(ctx, got)
	require.NoError(t, err)
	require.Equal(t, "after", updated.Caption)

	reread, err := client.Get(ctx, uid.String())
	require.NoError(t, err)
	require.Equal(t, "after", reread.Caption)
}

func TestQueryOverSocket(t *testing.T) {
	srv, dir := newTestServer(t)
	socketPath := startTestServer(t, srv, dir)
	ctx := context.Background()

	uid := uuid.New()
	require.NoError(t, srv.Catalog.Insert(ctx, &catalog.Record{
		UID:     uid,
		Hash:    big.NewInt(1),
		Authors: []string{"alice"},
	}))

	client, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer client.Close()

	author := "alice"
	result, err := client.Query(ctx, QueryParams{Author: &author})
	require.NoError(t, err)
	require.Equal(t, []string{uid.String()}, result.UIDs)
}

func TestDeleteOverSocket(t *testing.T) {
	srv, dir := newTestServer(t)
	socketPath := startTestServer(t, srv, dir)
	ctx := context.Background()

	uid := uuid.New()
	require.NoError(t, srv.Catalog.Insert(ctx, &catalog.Record{UID: uid, Hash: big.NewInt(3)}))
	require.NoError(t, srv.Engine.Trie.Add(big.NewInt(3)))

	client, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Delete(ctx, uid.String()))

	_, err = srv.Catalog.Get(ctx, uid)
	require.ErrorIs(t, err, catalog.ErrNoSuchUID)
}
