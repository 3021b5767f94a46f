// Package core wires the Catalog, HashTrie, Synchronizer, and QueryEngine
// into a single struct behind one shared lock, replacing the original
// implementation's global mutable __hashes/__db state (spec.md §9).
package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
	"github.com/nightfall-oss/cutespam/internal/config"
	"github.com/nightfall-oss/cutespam/query"
	"github.com/nightfall-oss/cutespam/synchronizer"
)

// Core owns the process singletons and the lock serializing every
// operation that touches them (spec.md §5).
type Core struct {
	Lock *sync.Mutex

	Catalog      *catalog.Catalog
	Trie         *hashtrie.Trie
	Engine       *query.Engine
	Synchronizer *synchronizer.Synchronizer

	Config *config.Config
}

// New opens the catalog at dbPath, builds an empty HashTrie
// at cfg's hash length, and wires the Synchronizer and QueryEngine around
// them. It runs the Synchronizer's startup reconciliation pass before
// returning, so Core is immediately consistent with whatever sidecars
// are on disk (spec.md §4.4.1).
func New(ctx context.Context, cfg *config.Config, dbPath string) (*Core, error) {
	imageFolder, err := cfg.ResolvedImageFolder()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(ctx, dbPath, cfg.HashLength, cfg.TagRegex)
	if err != nil {
		return nil, fmt.Errorf("core: opening catalog: %w", err)
	}

	trie := hashtrie.New(cfg.HashLength)
	lock := &sync.Mutex{}

	engine, err := query.New(ctx, lock, cat, trie)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("core: building query engine: %w", err)
	}

	sync_ := synchronizer.New(lock, cat, trie, imageFolder, cfg.Extensions, cfg.HashLength)

	c := &Core{
		Lock:         lock,
		Catalog:      cat,
		Trie:         trie,
		Engine:       engine,
		Synchronizer: sync_,
		Config:       cfg,
	}

	if err := sync_.Reconcile(ctx); err != nil {
		cat.Close()
		return nil, fmt.Errorf("core: startup reconciliation: %w", err)
	}
	return c, nil
}

// Run starts the Synchronizer's background activities (fsnotify watch,
// retry drain, periodic sweep) and blocks until ctx is canceled or one of
// them fails, fanning them in with errgroup the way the teacher's own
// multi-goroutine RPC servers coordinate shutdown.
func (c *Core) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Synchronizer.Run(gctx) })
	return g.Wait()
}

// Close releases the catalog's database handle. Call after Run returns.
func (c *Core) Close() error {
	return c.Catalog.Close()
}
