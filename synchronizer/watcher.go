package synchronizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/nightfall-oss/cutespam/catalog"
)

// Run starts the filesystem watcher and the two background loops it
// needs (retry drain, periodic sweep) and blocks until ctx is canceled
// or a fatal setup error occurs. Call Reconcile before Run.
func (s *Synchronizer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.ImageFolder); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watchLoop(ctx, watcher) })
	g.Go(func() error { return s.retryLoop(ctx) })
	g.Go(func() error { return s.sweepLoop(ctx) })
	return g.Wait()
}

func (s *Synchronizer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("synchronizer: watcher error: %v", err)
		}
	}
}

// handleEvent dispatches one fsnotify event to the matching Catalog
// operation. Failures are re-enqueued onto the duplicate-suppressing
// retry FIFO rather than retried inline (spec.md §4.4.2).
func (s *Synchronizer) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !s.hasRecognizedSidecarExtension(event.Name) {
		return
	}
	uid, err := uidForPath(event.Name)
	if err != nil {
		klog.V(3).Infof("synchronizer: %q is not a uid-named sidecar; ignoring", event.Name)
		return
	}

	var dispatchErr error
	s.Lock.Lock()
	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		dispatchErr = s.saveIfNewerLocked(ctx, uid, event.Name)
	case event.Op&fsnotify.Create == fsnotify.Create:
		dispatchErr = s.loadFileLocked(ctx, event.Name)
		if errors.Is(dispatchErr, catalog.ErrUIDConflict) {
			dispatchErr = s.saveIfNewerLocked(ctx, uid, event.Name)
		}
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		// A move is a delete of the old name, decomposed per spec.md
		// §4.4: the OS follow-up Create event for the new name is
		// handled by the Create branch above.
		dispatchErr = s.removeImageLocked(ctx, uid)
	default:
		s.Lock.Unlock()
		return
	}
	s.Lock.Unlock()

	if dispatchErr != nil {
		klog.Warningf("synchronizer: event %q on %q failed, queuing retry: %v", event.Op, event.Name, dispatchErr)
		s.retryMu.Lock()
		s.retry.Push(event.Name)
		s.retryMu.Unlock()
	}
}

func (s *Synchronizer) hasRecognizedSidecarExtension(path string) bool {
	return filepath.Ext(path) == ".xmp"
}

// retryLoop drains the retry FIFO every 2 seconds, per spec.md §4.4.2.
func (s *Synchronizer) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Retry each entry queued at this tick once; entries that fail
			// again go to the back and wait for the next tick.
			s.retryMu.Lock()
			n := s.retry.Len()
			s.retryMu.Unlock()
			for i := 0; i < n; i++ {
				s.drainRetryOnce(ctx)
			}
		}
	}
}

func (s *Synchronizer) drainRetryOnce(ctx context.Context) {
	s.retryMu.Lock()
	path, ok := s.retry.PopFront()
	s.retryMu.Unlock()
	if !ok {
		return
	}

	uid, err := uidForPath(path)
	if err != nil {
		return
	}

	var retryErr error
	s.Lock.Lock()
	if _, statErr := os.Stat(path); statErr != nil {
		retryErr = s.removeImageLocked(ctx, uid)
	} else {
		retryErr = s.loadFileLocked(ctx, path)
		if errors.Is(retryErr, catalog.ErrUIDConflict) {
			retryErr = s.saveIfNewerLocked(ctx, uid, path)
		}
	}
	s.Lock.Unlock()

	if retryErr != nil {
		klog.Warningf("synchronizer: retry of %q failed again, re-queuing: %v", path, retryErr)
		s.retryMu.Lock()
		s.retry.Push(path)
		s.retryMu.Unlock()
	}
}
