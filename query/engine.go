// Package query implements the QueryEngine (component E): structured
// search over the Catalog and perceptual-similarity search over the
// HashTrie.
//
// Grounded on original_source/cutespam/db.py's find_similar_images and
// query-building logic; the tag-completion cache follows
// huge-cache/cache.go's bigcache wrapper pattern.
package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/google/uuid"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/hashtrie"
)

// Engine answers structured and perceptual-similarity queries. All
// operations acquire Lock, the process-wide write lock shared with the
// synchronizer (spec.md §5) — reads are serialized along with writes in
// this design, trading read concurrency for the simplicity of a single
// lock.
type Engine struct {
	Lock    lockable
	Catalog *catalog.Catalog
	Trie    *hashtrie.Trie

	tagCache *bigcache.BigCache
}

// lockable is satisfied by *sync.Mutex; declared as an interface so
// tests can run without wiring a real shared lock.
type lockable interface {
	Lock()
	Unlock()
}

// New builds an Engine with a 5-minute tag-completion cache, matching
// the TTL huge-cache/cache.go uses for its entries.
func New(ctx context.Context, lock lockable, cat *catalog.Catalog, trie *hashtrie.Trie) (*Engine, error) {
	cache, err := bigcache.New(ctx, bigcache.DefaultConfig(5*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("query: creating tag cache: %w", err)
	}
	return &Engine{Lock: lock, Catalog: cat, Trie: trie, tagCache: cache}, nil
}

// Options is the input to Query, per spec.md §4.5.
type Options struct {
	Keyword    []string
	NotKeyword []string

	Author  *string
	Caption *string
	Source  *string
	Rating  *string

	Limit  int
	Random bool
}

// Query returns an ordered list of uids satisfying every provided
// filter. Ordering is either ascending-uid scan order, or, when Random
// is set, an order-preserving intersection of the randomized base scan
// (spec.md §9, Open Question b).
func (e *Engine) Query(ctx context.Context, opts Options) ([]uuid.UUID, error) {
	e.Lock.Lock()
	defer e.Lock.Unlock()

	u, err := e.Catalog.ListAllUIDs(ctx, opts.Random)
	if err != nil {
		return nil, err
	}

	apply := func(field string, value *string) error {
		if value == nil {
			return nil
		}
		matches, err := e.Catalog.UIDsWhereField(ctx, field, *value)
		if err != nil {
			return err
		}
		u = orderedIntersect(u, matches)
		return nil
	}
	if err := apply("author", opts.Author); err != nil {
		return nil, err
	}
	if err := apply("caption", opts.Caption); err != nil {
		return nil, err
	}
	if err := apply("source", opts.Source); err != nil {
		return nil, err
	}
	if err := apply("rating", opts.Rating); err != nil {
		return nil, err
	}

	for _, k := range opts.Keyword {
		matches, err := e.Catalog.UIDsWithKeyword(ctx, k)
		if err != nil {
			return nil, err
		}
		u = orderedIntersect(u, matches)
	}
	for _, k := range opts.NotKeyword {
		matches, err := e.Catalog.UIDsWithKeyword(ctx, k)
		if err != nil {
			return nil, err
		}
		u = orderedSubtract(u, matches)
	}

	if opts.Limit > 0 && len(u) > opts.Limit {
		u = u[:opts.Limit]
	}
	return u, nil
}

func orderedIntersect(base, filter []uuid.UUID) []uuid.UUID {
	allowed := make(map[uuid.UUID]bool, len(filter))
	for _, u := range filter {
		allowed[u] = true
	}
	out := make([]uuid.UUID, 0, len(base))
	for _, u := range base {
		if allowed[u] {
			out = append(out, u)
		}
	}
	return out
}

func orderedSubtract(base, remove []uuid.UUID) []uuid.UUID {
	excluded := make(map[uuid.UUID]bool, len(remove))
	for _, u := range remove {
		excluded[u] = true
	}
	out := make([]uuid.UUID, 0, len(base))
	for _, u := range base {
		if !excluded[u] {
			out = append(out, u)
		}
	}
	return out
}

// SimilarityResult is one match from SimilarByHash or Similar.
type SimilarityResult struct {
	UID        uuid.UUID
	Similarity float64
}

// SimilarByHash finds records within threshold similarity of h, per
// spec.md §4.5: d := ceil(H * (1 - threshold)); probe h into the trie
// (removing it again afterward if it wasn't already a member), run a
// radius search, and map every matched hash back to its catalog rows.
// RadiusSearch always excludes the probe itself, so an exact match (h
// already a member) is folded back in here as a distance-0, similarity-1
// result rather than left to the radius search to find.
func (e *Engine) SimilarByHash(ctx context.Context, h *big.Int, threshold float64, limit int) ([]SimilarityResult, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("query: threshold out of range: %v", threshold)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	e.Lock.Lock()
	defer e.Lock.Unlock()

	bits := e.Trie.Bits()
	distance := int(ceilFloat(float64(bits) * (1 - threshold)))

	exactMatch := e.Trie.Contains(h)
	probeInserted := false
	if !exactMatch {
		if err := e.Trie.Add(h); err != nil && err != hashtrie.ErrDuplicateHash {
			return nil, err
		}
		probeInserted = true
	}

	results := e.Trie.RadiusSearch(h, distance, 0)

	if probeInserted {
		if err := e.Trie.Remove(h); err != nil && err != hashtrie.ErrMissingHash {
			return nil, err
		}
	}

	var out []SimilarityResult
	if exactMatch {
		uids, err := e.Catalog.HashRefUIDs(ctx, catalog.HashHex(h, bits))
		if err != nil {
			return nil, err
		}
		for _, uid := range uids {
			out = append(out, SimilarityResult{UID: uid, Similarity: 1})
		}
	}
	for _, r := range results {
		similarity := 1 - float64(r.Distance)/float64(bits)
		uids, err := e.Catalog.HashRefUIDs(ctx, catalog.HashHex(r.Key, bits))
		if err != nil {
			return nil, err
		}
		for _, uid := range uids {
			out = append(out, SimilarityResult{UID: uid, Similarity: similarity})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].UID.String() < out[j].UID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Similar is SimilarByHash with h taken from an existing catalog record.
func (e *Engine) Similar(ctx context.Context, uid uuid.UUID, threshold float64, limit int) ([]SimilarityResult, error) {
	e.Lock.Lock()
	rec, err := e.Catalog.Get(ctx, uid)
	e.Lock.Unlock()
	if err != nil {
		return nil, err
	}
	return e.SimilarByHash(ctx, rec.Hash, threshold, limit)
}

func ceilFloat(v float64) float64 {
	i := float64(int64(v))
	if v > i {
		return i + 1
	}
	return i
}

// TagComplete returns distinct keywords starting with prefix, serving
// repeated prefixes out of a short-lived cache.
func (e *Engine) TagComplete(ctx context.Context, prefix string) ([]string, error) {
	if cached, err := e.tagCache.Get(prefix); err == nil {
		return decodeTagList(cached), nil
	}

	e.Lock.Lock()
	tags, err := e.Catalog.TagComplete(ctx, prefix)
	e.Lock.Unlock()
	if err != nil {
		return nil, err
	}

	_ = e.tagCache.Set(prefix, encodeTagList(tags))
	return tags, nil
}

func encodeTagList(tags []string) []byte {
	out := make([]byte, 0, 64)
	for i, t := range tags {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, t...)
	}
	return out
}

func decodeTagList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, string(data[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(data[start:]))
	return out
}
