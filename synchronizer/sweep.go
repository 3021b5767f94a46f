package synchronizer

import (
	"context"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/nightfall-oss/cutespam/sidecar"
)

// sweepLoop runs the periodic database-to-file writer every 10 seconds,
// per spec.md §4.4.3.
func (s *Synchronizer) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				klog.Errorf("synchronizer: sweep failed: %v", err)
			}
		}
	}
}

// Sweep projects every record whose last_updated exceeds the clock of
// the previous sweep back onto its sidecar file, when the record is
// newer than the file (the record-wins half of the conflict policy).
// The file's mtime is set equal to last_updated afterward so the sweep
// does not treat its own write as dirty next time.
func (s *Synchronizer) Sweep(ctx context.Context) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	since := s.lastSweep
	next := time.Now().UTC()

	uids, err := s.Catalog.ListAllUIDs(ctx, false)
	if err != nil {
		return err
	}

	for _, uid := range uids {
		rec, err := s.Catalog.Get(ctx, uid)
		if err != nil {
			klog.Errorf("synchronizer: sweep reading %s: %v", uid, err)
			continue
		}
		if !rec.LastUpdated.After(since) {
			continue
		}

		path := sidecarPath(s.ImageFolder, uid)
		info, statErr := os.Stat(path)
		if statErr != nil {
			klog.Warningf("synchronizer: sweep found record %s with no sidecar at %q: %v", uid, path, statErr)
			continue
		}
		if !rec.LastUpdated.After(info.ModTime()) {
			continue // file already at least as new; nothing to do this pass
		}

		if err := sidecar.Write(path, rec, s.HashBits); err != nil {
			klog.Errorf("synchronizer: sweep writing %q: %v", path, err)
			continue
		}
		if err := os.Chtimes(path, rec.LastUpdated, rec.LastUpdated); err != nil {
			klog.Errorf("synchronizer: sweep setting mtime on %q: %v", path, err)
		}
	}

	s.lastSweep = next
	return nil
}
