package sidecar

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nightfall-oss/cutespam/catalog"
)

func TestWriteReadRoundTrip(t *testing.T) {
	uid := uuid.MustParse("04a10461-a60b-4dc3-8d91-4a91b311f004")
	hash, err := catalog.ParseHashHex("b59f95ff0000000000000000000000000000000000000000000000000028b5")
	if err != nil {
		t.Fatalf("parsing fixture hash: %v", err)
	}
	date, err := time.Parse(timestampLayout, "2017-05-29T00:00:59.412Z")
	if err != nil {
		t.Fatalf("parsing fixture date: %v", err)
	}

	rec := &catalog.Record{
		UID:         uid,
		GroupID:     &uid,
		Hash:        hash,
		Rating:      catalog.RatingQuestionable,
		Date:        date,
		LastUpdated: date,
		Source:      "http://example.com/example_image.jpg",
		Authors:     []string{"test_author"},
		Keywords:    catalog.NewStringSet("test_keyword", "test_keyword_2"),
		Collections: catalog.NewStringSet("test_collection", "test_collection2", "test_collection3"),
		Caption:     "Test Caption",
		SourceOther: catalog.URLSet(catalog.NewStringSet("http://example.com", "http://example.de")),
		SourceVia:   catalog.URLSet(catalog.NewStringSet("http://example.com", "http://example.de")),
	}

	path := filepath.Join(t.TempDir(), uid.String()+".xmp")
	if err := Write(path, rec, 256); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got.UID != rec.UID {
		t.Fatalf("uid mismatch: %v vs %v", got.UID, rec.UID)
	}
	if got.GroupID == nil || *got.GroupID != *rec.GroupID {
		t.Fatalf("group_id mismatch: %v", got.GroupID)
	}
	if got.Hash.Cmp(rec.Hash) != 0 {
		t.Fatalf("hash mismatch: %s vs %s", got.Hash, rec.Hash)
	}
	if got.Rating != rec.Rating {
		t.Fatalf("rating mismatch: %v vs %v", got.Rating, rec.Rating)
	}
	if !got.Date.Equal(rec.Date) {
		t.Fatalf("date mismatch: %v vs %v", got.Date, rec.Date)
	}
	if got.Source != rec.Source {
		t.Fatalf("source mismatch: %q vs %q", got.Source, rec.Source)
	}
	if len(got.Authors) != 1 || got.Authors[0] != "test_author" {
		t.Fatalf("authors mismatch: %v", got.Authors)
	}
	if !got.Keywords.Equal(rec.Keywords) {
		t.Fatalf("keywords mismatch: %v vs %v", got.Keywords.Slice(), rec.Keywords.Slice())
	}
	if !got.Collections.Equal(rec.Collections) {
		t.Fatalf("collections mismatch: %v vs %v", got.Collections.Slice(), rec.Collections.Slice())
	}
	if got.Caption != rec.Caption {
		t.Fatalf("caption mismatch: %q vs %q", got.Caption, rec.Caption)
	}
	if !catalog.StringSet(got.SourceOther).Equal(catalog.StringSet(rec.SourceOther)) {
		t.Fatalf("source_other mismatch: %v", got.SourceOther)
	}
	if !catalog.StringSet(got.SourceVia).Equal(catalog.StringSet(rec.SourceVia)) {
		t.Fatalf("source_via mismatch: %v", got.SourceVia)
	}
}

func TestReadMissingFileFails(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nonexistent.xmp")); err == nil {
		t.Fatal("expected error reading missing sidecar")
	}
}

func TestReadThenWriteThenReadIsStable(t *testing.T) {
	uid := uuid.New()
	rec := &catalog.Record{
		UID:      uid,
		Hash:     mustHash("1"),
		Caption:  "hello",
		Keywords: catalog.NewStringSet("a", "b"),
	}
	path := filepath.Join(t.TempDir(), uid.String()+".xmp")
	if err := Write(path, rec, 256); err != nil {
		t.Fatal(err)
	}
	first, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(path, first, 256); err != nil {
		t.Fatal(err)
	}
	second, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Keywords.Equal(second.Keywords) || first.Caption != second.Caption {
		t.Fatalf("read(write(read(S))) != read(S): %+v vs %+v", first, second)
	}
}

func mustHash(hex string) *big.Int {
	h, err := catalog.ParseHashHex(hex)
	if err != nil {
		panic(err)
	}
	return h
}
