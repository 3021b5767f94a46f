package catalog

import "testing"

func TestRegenerateKeywordsAddsMissingTokens(t *testing.T) {
	rec := &Record{Keywords: NewStringSet()}
	if !RegenerateKeywords(rec) {
		t.Fatal("expected change on first regeneration")
	}
	want := []string{"missing:author", "missing:caption", "missing:rating", "missing:source"}
	for _, w := range want {
		if !rec.Keywords.Has(w) {
			t.Fatalf("expected %q in %v", w, rec.Keywords.Slice())
		}
	}
}

func TestRegenerateKeywordsClearsResolvedMissing(t *testing.T) {
	rec := &Record{
		Keywords: NewStringSet("missing:author", "missing:caption"),
		Authors:  []string{"bob"},
		Caption:  "hello",
	}
	RegenerateKeywords(rec)
	if rec.Keywords.Has("missing:author") || rec.Keywords.Has("missing:caption") {
		t.Fatalf("expected resolved fields cleared, got %v", rec.Keywords.Slice())
	}
	if !rec.Keywords.Has("author:bob") {
		t.Fatalf("expected author:bob, got %v", rec.Keywords.Slice())
	}
}

func TestRegenerateKeywordsCollectionsAndAuthors(t *testing.T) {
	rec := &Record{
		Keywords:    NewStringSet(),
		Collections: NewStringSet("vacation", "2024"),
		Authors:     []string{"alice", "bob"},
		Caption:     "x",
		Source:      "y",
		Rating:      RatingSafe,
	}
	RegenerateKeywords(rec)
	for _, w := range []string{"collection:vacation", "collection:2024", "author:alice", "author:bob"} {
		if !rec.Keywords.Has(w) {
			t.Fatalf("expected %q, got %v", w, rec.Keywords.Slice())
		}
	}
	for _, w := range rec.Keywords.Slice() {
		if w == "missing:author" || w == "missing:caption" || w == "missing:source" || w == "missing:rating" {
			t.Fatalf("did not expect %q, fields are populated", w)
		}
	}
}

func TestRegenerateKeywordsPreservesUserKeywords(t *testing.T) {
	rec := &Record{Keywords: NewStringSet("landscape", "bw")}
	RegenerateKeywords(rec)
	if !rec.Keywords.Has("landscape") || !rec.Keywords.Has("bw") {
		t.Fatalf("expected user keywords preserved, got %v", rec.Keywords.Slice())
	}
}

func TestRegenerateKeywordsReturnsFalseWhenUnchanged(t *testing.T) {
	rec := &Record{Keywords: NewStringSet()}
	RegenerateKeywords(rec) // first pass seeds the missing:* tokens
	if RegenerateKeywords(rec) {
		t.Fatal("expected no change on second stable pass")
	}
}
