package hashtrie

import (
	"math/big"
	"sort"
)

// Result is one hit from a radius search: a stored key and its Hamming
// distance from the probe.
type Result struct {
	Distance int
	Key      *Key
}

// RadiusSearch returns up to limit (0 means unlimited) pairs (distance,
// key) such that key is a member, key != h, and popcount(key XOR h) <= d,
// sorted by ascending distance with ties broken by ascending key. The
// probe h is always excluded, even when it is itself a member, so
// inserting it before the search does not bring it into the results.
// Callers that want an exact match reported check Contains(h) and add it
// themselves (see query.Engine.SimilarByHash).
//
// Every real key within distance d is reached by exactly one sequence of
// sibling-flips from h's own (possibly only partially real) path, so each
// stored key within range is visited and reported exactly once.
func (t *Trie) RadiusSearch(h *Key, d, limit int) []Result {
	if d < 0 {
		return nil
	}
	if d > t.bits {
		d = t.bits
	}

	var results []Result
	acc := new(big.Int)

	var walk func(n *node, depth, dist int)
	walk = func(n *node, depth, dist int) {
		if n == nil || dist > d {
			return
		}
		if depth == t.bits {
			if dist == 0 {
				return // dist==0 only happens along h's own path, i.e. acc == h
			}
			results = append(results, Result{Distance: dist, Key: new(big.Int).Set(acc)})
			return
		}
		bitPos := t.bits - 1 - depth
		hbit := bitAt(h, bitPos)

		acc.SetBit(acc, bitPos, hbit)
		walk(n.children[hbit], depth+1, dist)

		flipped := hbit ^ 1
		acc.SetBit(acc, bitPos, flipped)
		walk(n.children[flipped], depth+1, dist+1)
	}
	walk(t.root, 0, 0)

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Key.Cmp(results[j].Key) < 0
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
