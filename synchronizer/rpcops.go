package synchronizer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/sidecar"
)

// SaveRecord applies rec as the new state of its uid: the catalog row,
// the HashTrie (reindexed if the hash changed), and the sidecar file are
// all updated together. This is the write path behind RpcFront's
// "update" method (spec.md §4.6) — unlike saveIfNewerLocked, which
// arbitrates a file-vs-record conflict, SaveRecord always applies rec.
func (s *Synchronizer) SaveRecord(ctx context.Context, rec *catalog.Record) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	existing, err := s.Catalog.Get(ctx, rec.UID)
	if err != nil {
		return fmt.Errorf("synchronizer: saving %s: %w", rec.UID, err)
	}

	ts := time.Now().UTC()
	if err := s.Catalog.Update(ctx, rec, ts); err != nil {
		return fmt.Errorf("synchronizer: saving %s: %w", rec.UID, err)
	}

	if existing.Hash.Cmp(rec.Hash) != 0 {
		if err := s.reindexHash(ctx, rec.UID, existing.Hash, rec.Hash); err != nil {
			return err
		}
	}

	path := sidecarPath(s.ImageFolder, rec.UID)
	if err := sidecar.Write(path, rec, s.HashBits); err != nil {
		return fmt.Errorf("synchronizer: writing sidecar for %s: %w", rec.UID, err)
	}
	return os.Chtimes(path, rec.LastUpdated, rec.LastUpdated)
}

// DeleteRecord removes uid's catalog row, HashTrie leaf (if
// unreferenced), and sidecar file. This is the write path behind
// RpcFront's "delete" method.
func (s *Synchronizer) DeleteRecord(ctx context.Context, uid uuid.UUID) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	if err := s.removeImageLocked(ctx, uid); err != nil {
		return err
	}

	path := sidecarPath(s.ImageFolder, uid)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("synchronizer: removing sidecar %q: %w", path, err)
	}
	return nil
}
