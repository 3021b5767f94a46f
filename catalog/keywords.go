package catalog

import "strings"

// RegenerateKeywords recomputes rec.Keywords from rec's other fields,
// per spec.md §4.5: strip any previously-generated missing:/collection:/
// author: tokens, then regenerate them from current state. Returns true
// iff the set changed, which callers use to decide whether to bump
// LastUpdated before persisting.
func RegenerateKeywords(rec *Record) bool {
	old := rec.Keywords
	next := NewStringSet()
	for kw := range old {
		if isGenerated(kw) {
			continue
		}
		next.Add(kw)
	}

	if rec.Author() == "" {
		next.Add("missing:author")
	}
	if rec.Source == "" {
		next.Add("missing:source")
	}
	if rec.Caption == "" {
		next.Add("missing:caption")
	}
	if rec.Rating == RatingNone {
		next.Add("missing:rating")
	}

	for col := range rec.Collections {
		next.Add("collection:" + col)
	}
	for _, a := range rec.Authors {
		next.Add("author:" + a)
	}

	changed := !old.Equal(next)
	rec.Keywords = next
	return changed
}

func isGenerated(kw string) bool {
	return strings.HasPrefix(kw, "missing:") ||
		strings.HasPrefix(kw, "collection:") ||
		strings.HasPrefix(kw, "author:")
}
