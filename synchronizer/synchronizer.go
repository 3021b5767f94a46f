// Package synchronizer keeps the Catalog, the HashTrie, and on-disk
// sidecar files mutually consistent (component D): a startup
// reconciliation pass, a filesystem watcher with a duplicate-suppressing
// retry queue, and a periodic database-to-file sweep.
//
// Grounded on original_source/cutespam/db.py's init_db/listen_for_*
// functions for the reconciliation and watch logic, and on cmd-rpc.go's
// fsnotify dispatch pattern for the watcher goroutine shape.
package synchronizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
	"github.com/nightfall-oss/cutespam/internal/orderedset"
	"github.com/nightfall-oss/cutespam/sidecar"
)

// Synchronizer owns the filesystem↔catalog consistency discipline of
// spec.md §4.4. Every public operation acquires Lock, the process-wide
// global mutation lock also used by the query engine and RPC front
// (spec.md §5): this makes the whole core effectively single-writer.
type Synchronizer struct {
	Lock *sync.Mutex

	Catalog     *catalog.Catalog
	Trie        *hashtrie.Trie
	ImageFolder string
	Extensions  []string
	HashBits    int

	retryMu   sync.Mutex
	retry     *orderedset.Set[string]
	lastSweep time.Time
}

// New builds a Synchronizer. lock is the shared global write lock; the
// caller (internal/core) constructs exactly one and passes it to every
// component that mutates Catalog or Trie state.
func New(lock *sync.Mutex, cat *catalog.Catalog, trie *hashtrie.Trie, imageFolder string, extensions []string, hashBits int) *Synchronizer {
	return &Synchronizer{
		Lock:        lock,
		Catalog:     cat,
		Trie:        trie,
		ImageFolder: imageFolder,
		Extensions:  extensions,
		HashBits:    hashBits,
		retry:       orderedset.New[string](),
	}
}

// uidForPath returns the uid a sidecar/image path stands for, or
// sidecar.ErrNotAnImage if the stem doesn't parse as a uuid.
func uidForPath(path string) (uuid.UUID, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	u, err := uuid.Parse(stem)
	if err != nil {
		return uuid.UUID{}, sidecar.ErrNotAnImage
	}
	return u, nil
}

func sidecarPath(imageFolder string, uid uuid.UUID) string {
	return filepath.Join(imageFolder, uid.String()+".xmp")
}

// hasRecognizedExtension reports whether path's extension is one of the
// configured image extensions (case-insensitive).
func (s *Synchronizer) hasRecognizedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// imagePathFor locates the image file a sidecar stands for, trying the
// configured extensions in order (mirroring original_source/cutespam/
// db.py's filename_for_uid, generalized from its hardcoded .jpg/.png/
// .jpeg chain to the configured extensions list).
func (s *Synchronizer) imagePathFor(uid uuid.UUID) (string, error) {
	entries, err := os.ReadDir(s.ImageFolder)
	if err != nil {
		return "", fmt.Errorf("synchronizer: scanning %q: %w", s.ImageFolder, err)
	}
	stem := uid.String()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) != stem {
			continue
		}
		if s.hasRecognizedExtension(name) {
			return filepath.Join(s.ImageFolder, name), nil
		}
	}
	return "", fmt.Errorf("synchronizer: no recognized image file for uid %s", uid)
}

// LoadFile inserts a new record from the sidecar at path, adds its hash
// to the HashTrie, and logs (but does not fail on) a duplicate hash.
func (s *Synchronizer) LoadFile(ctx context.Context, path string) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	return s.loadFileLocked(ctx, path)
}

func (s *Synchronizer) loadFileLocked(ctx context.Context, path string) error {
	rec, err := sidecar.Read(path)
	if err != nil {
		return fmt.Errorf("synchronizer: loading %q: %w", path, err)
	}

	if _, err := s.imagePathFor(rec.UID); err != nil {
		klog.Warningf("synchronizer: sidecar %q has no recognized image file (extensions %v): %v", path, s.Extensions, err)
	}

	if err := s.Catalog.Insert(ctx, rec); err != nil {
		return fmt.Errorf("synchronizer: inserting %q: %w", path, err)
	}

	if err := s.Trie.Add(rec.Hash); err != nil {
		if err == hashtrie.ErrDuplicateHash {
			klog.Warningf("synchronizer: possible duplicate image, hash already indexed: uid=%s", rec.UID)
		} else {
			return fmt.Errorf("synchronizer: indexing hash for %q: %w", path, err)
		}
	}
	return nil
}

// RemoveImage deletes the catalog record for uid and, if no other record
// shares its hash, removes the HashTrie leaf too (hash reference
// counting, spec.md §4.4).
func (s *Synchronizer) RemoveImage(ctx context.Context, uid uuid.UUID) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	return s.removeImageLocked(ctx, uid)
}

func (s *Synchronizer) removeImageLocked(ctx context.Context, uid uuid.UUID) error {
	rec, err := s.Catalog.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("synchronizer: removing %s: %w", uid, err)
	}

	if err := s.Catalog.Delete(ctx, uid); err != nil {
		return fmt.Errorf("synchronizer: removing %s: %w", uid, err)
	}

	hashHex := catalog.HashHex(rec.Hash, s.Catalog.HashBits)
	refs, err := s.Catalog.HashRefCount(ctx, hashHex)
	if err != nil {
		return fmt.Errorf("synchronizer: counting hash refs for %s: %w", uid, err)
	}
	if refs == 0 {
		if err := s.Trie.Remove(rec.Hash); err != nil && err != hashtrie.ErrMissingHash {
			return fmt.Errorf("synchronizer: unindexing hash for %s: %w", uid, err)
		}
	}
	return nil
}

// saveIfNewerLocked resolves a potential conflict between the sidecar at
// path and the existing catalog record for its uid, per the "file
// modified" half of spec.md §4.4's conflict policy: if the file's mtime
// is strictly after the record's last_updated, the file wins.
func (s *Synchronizer) saveIfNewerLocked(ctx context.Context, uid uuid.UUID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("synchronizer: stat %q: %w", path, err)
	}

	existing, err := s.Catalog.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("synchronizer: reading existing record for %s: %w", uid, err)
	}

	if !info.ModTime().After(existing.LastUpdated) {
		return nil // equal or file is not newer: no-op
	}

	rec, err := sidecar.Read(path)
	if err != nil {
		return fmt.Errorf("synchronizer: reading %q: %w", path, err)
	}
	rec.LastUpdated = info.ModTime().UTC()

	oldHash := existing.Hash
	if err := s.Catalog.Update(ctx, rec, rec.LastUpdated); err != nil {
		return fmt.Errorf("synchronizer: updating %s: %w", uid, err)
	}

	if oldHash.Cmp(rec.Hash) != 0 {
		if err := s.reindexHash(ctx, uid, oldHash, rec.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) reindexHash(ctx context.Context, uid uuid.UUID, oldHash, newHash *hashtrie.Key) error {
	refs, err := s.Catalog.HashRefCount(ctx, catalog.HashHex(oldHash, s.Catalog.HashBits))
	if err != nil {
		return err
	}
	if refs == 0 {
		if err := s.Trie.Remove(oldHash); err != nil && err != hashtrie.ErrMissingHash {
			return err
		}
	}
	if err := s.Trie.Add(newHash); err != nil && err != hashtrie.ErrDuplicateHash {
		return err
	}
	return nil
}

// Reconcile performs the startup reconciliation pass of spec.md §4.4.1:
// the filesystem is treated as authoritative. Call this once, before
// Run.
func (s *Synchronizer) Reconcile(ctx context.Context) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	folderUIDs, err := s.scanFolder()
	if err != nil {
		return fmt.Errorf("synchronizer: scanning %q: %w", s.ImageFolder, err)
	}
	catalogUIDs, err := s.Catalog.ListAllUIDs(ctx, false)
	if err != nil {
		return fmt.Errorf("synchronizer: listing catalog uids: %w", err)
	}
	catalogSet := make(map[uuid.UUID]bool, len(catalogUIDs))
	for _, u := range catalogUIDs {
		catalogSet[u] = true
	}

	for uid, path := range folderUIDs {
		if catalogSet[uid] {
			if err := s.saveIfNewerLocked(ctx, uid, path); err != nil {
				klog.Errorf("synchronizer: reconciling %s: %v", uid, err)
			}
			continue
		}
		if err := s.loadFileLocked(ctx, path); err != nil {
			klog.Errorf("synchronizer: loading %s during reconciliation: %v", uid, err)
		}
	}
	for _, uid := range catalogUIDs {
		if _, ok := folderUIDs[uid]; !ok {
			if err := s.removeImageLocked(ctx, uid); err != nil {
				klog.Errorf("synchronizer: removing stale catalog row %s: %v", uid, err)
			}
		}
	}

	s.lastSweep = time.Now().UTC()
	return nil
}

// scanFolder returns every sidecar-bearing uid found directly in
// ImageFolder, mapped to its sidecar path.
func (s *Synchronizer) scanFolder() (map[uuid.UUID]string, error) {
	entries, err := os.ReadDir(s.ImageFolder)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".xmp" {
			continue
		}
		path := filepath.Join(s.ImageFolder, e.Name())
		uid, err := uidForPath(path)
		if err != nil {
			continue
		}
		out[uid] = path
	}
	return out, nil
}
