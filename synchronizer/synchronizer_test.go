package synchronizer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
	"github.com/nightfall-oss/cutespam/sidecar"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, string) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(context.Background(), ":memory:", 256, `[!-)+-9;-~]+`)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	trie := hashtrie.New(256)
	s := New(&sync.Mutex{}, cat, trie, dir, []string{".jpg", ".png"}, 256)
	return s, dir
}

func writeFixtureSidecar(t *testing.T, dir string, uid uuid.UUID, hash string) string {
	t.Helper()
	h, err := catalog.ParseHashHex(hash)
	if err != nil {
		t.Fatal(err)
	}
	rec := &catalog.Record{UID: uid, Hash: h, Caption: "x"}
	path := filepath.Join(dir, uid.String()+".xmp")
	if err := sidecar.Write(path, rec, 256); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReconcileLoadsNewSidecars(t *testing.T) {
	s, dir := newTestSynchronizer(t)
	uid := uuid.New()
	writeFixtureSidecar(t, dir, uid, "ab")

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := s.Catalog.Get(context.Background(), uid)
	if err != nil {
		t.Fatalf("expected record inserted, get failed: %v", err)
	}
	if got.Caption != "x" {
		t.Fatalf("unexpected caption: %q", got.Caption)
	}
	if !s.Trie.Contains(got.Hash) {
		t.Fatal("expected hash indexed in trie after reconcile")
	}
}

func TestReconcileRemovesStaleCatalogRows(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	ctx := context.Background()
	uid := uuid.New()
	h, _ := catalog.ParseHashHex("cd")
	if err := s.Catalog.Insert(ctx, &catalog.Record{UID: uid, Hash: h}); err != nil {
		t.Fatal(err)
	}
	if err := s.Trie.Add(h); err != nil {
		t.Fatal(err)
	}

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := s.Catalog.Get(ctx, uid); err != catalog.ErrNoSuchUID {
		t.Fatalf("expected stale row removed, got %v", err)
	}
	if s.Trie.Contains(h) {
		t.Fatal("expected hash removed from trie once its last reference was gone")
	}
}

func TestHashRefcountKeepsLeafWhileSharedS6(t *testing.T) {
	s, dir := newTestSynchronizer(t)
	ctx := context.Background()

	hash := "ee"
	uidA := uuid.New()
	uidB := uuid.New()
	writeFixtureSidecar(t, dir, uidA, hash)
	writeFixtureSidecar(t, dir, uidB, hash)

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	h, _ := catalog.ParseHashHex(hash)
	if !s.Trie.Contains(h) {
		t.Fatal("expected hash indexed")
	}

	if err := s.RemoveImage(ctx, uidA); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if !s.Trie.Contains(h) {
		t.Fatal("expected hash to remain while uidB still references it")
	}

	if err := s.RemoveImage(ctx, uidB); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if s.Trie.Contains(h) {
		t.Fatal("expected hash removed once last reference gone")
	}
}

func TestSweepWritesNewerRecordsAndSetsMtime(t *testing.T) {
	s, dir := newTestSynchronizer(t)
	ctx := context.Background()
	uid := uuid.New()
	path := writeFixtureSidecar(t, dir, uid, "11")

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rec, err := s.Catalog.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	rec.Caption = "updated via db"
	newTS := time.Now().Add(time.Hour).UTC()
	if err := s.Catalog.Update(ctx, rec, newTS); err != nil {
		t.Fatal(err)
	}

	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	onDisk, err := sidecar.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Caption != "updated via db" {
		t.Fatalf("expected sidecar rewritten, got caption %q", onDisk.Caption)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(rec.LastUpdated) {
		t.Fatalf("expected mtime set to last_updated %v, got %v", rec.LastUpdated, info.ModTime())
	}
}

func TestSaveIfNewerPullsFileChangesIn(t *testing.T) {
	s, dir := newTestSynchronizer(t)
	ctx := context.Background()
	uid := uuid.New()
	path := writeFixtureSidecar(t, dir, uid, "22")

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rec, err := sidecar.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	rec.Caption = "edited on disk"
	if err := sidecar.Write(path, rec, 256); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if err := s.saveIfNewerLocked(ctx, uid, path); err != nil {
		t.Fatalf("saveIfNewer: %v", err)
	}

	got, err := s.Catalog.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if got.Caption != "edited on disk" {
		t.Fatalf("expected file-wins update, got caption %q", got.Caption)
	}
}
