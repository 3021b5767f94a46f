// Package sidecar reads and writes the per-image XMP metadata sidecar
// (component B): a small RDF/XML document living next to each image
// file, encoding the same fields the catalog stores.
//
// Grounded on original_source/cutespam/xmpmeta.py's CuteMeta/Meta
// read-write contract; realized with encoding/xml and an explicit,
// compile-time field table (fields.go) instead of the source's
// reflection-over-type-hints approach (spec.md §9).
package sidecar

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nightfall-oss/cutespam/catalog"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Read loads and decodes the sidecar file at path into a Record. A
// missing file is an error, per spec.md §4.2's read contract.
func Read(path string) (*catalog.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sidecar: reading %q: %w", path, err)
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sidecar: parsing %q: %w", path, err)
	}
	d := doc.Description

	rec := &catalog.Record{}
	if d.UID != "" {
		u, err := parseFlexibleUUID(d.UID)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing uid: %w", err)
		}
		rec.UID = u
	}
	if d.Hash != "" {
		h, err := catalog.ParseHashHex(d.Hash)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing hash: %w", err)
		}
		rec.Hash = h
	}
	rec.Source = d.Source
	if d.GroupID != "" {
		g, err := parseFlexibleUUID(d.GroupID)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing group_id: %w", err)
		}
		rec.GroupID = &g
	}
	if d.Rating != "" {
		r, err := catalog.ParseRating(d.Rating)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing rating: %w", err)
		}
		rec.Rating = r
	}
	if d.Date != "" {
		t, err := time.Parse(timestampLayout, d.Date)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing date: %w", err)
		}
		rec.Date = t
	}
	if d.LastUpdated != "" {
		t, err := time.Parse(timestampLayout, d.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("sidecar: parsing last_updated: %w", err)
		}
		rec.LastUpdated = t
	}

	rec.Caption = altText(d.Caption)
	rec.Authors = bagItems(d.Authors)
	rec.Keywords = catalog.NewStringSet(bagItems(d.Keywords)...)
	rec.Collections = catalog.NewStringSet(bagItems(d.Collections)...)
	rec.SourceOther = catalog.URLSet(catalog.NewStringSet(bagItems(d.SourceOther)...))
	rec.SourceVia = catalog.URLSet(catalog.NewStringSet(bagItems(d.SourceVia)...))

	return rec, nil
}

// Write serializes rec to path. This write is not atomic at the byte
// level: the file is overwritten in place. The synchronizer calls Write
// directly on the final path, without a temporary file and rename, so a
// crash mid-write can leave a truncated sidecar.
func Write(path string, rec *catalog.Record, hashBits int) error {
	d := description{
		UID:         rec.UID.String(),
		Hash:        catalog.HashHex(rec.Hash, hashBits),
		Source:      rec.Source,
		Rating:      rec.Rating.String(),
		Date:        formatTimestamp(rec.Date),
		LastUpdated: formatTimestamp(rec.LastUpdated),
		Caption:     newAltField("caption", rec.Caption),
		Authors:     newListField("authors", rec.Authors),
		Keywords:    newListField("keywords", sortedKeys(rec.Keywords)),
		Collections: newListField("collections", sortedKeys(rec.Collections)),
		SourceOther: newListField("sourceOther", sortedKeys(catalog.StringSet(rec.SourceOther))),
		SourceVia:   newListField("sourceVia", sortedKeys(catalog.StringSet(rec.SourceVia))),
	}
	if rec.GroupID != nil {
		d.GroupID = rec.GroupID.String()
	}

	doc := document{Description: d}
	out, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sidecar: encoding %q: %w", path, err)
	}
	out = append([]byte(xml.Header), out...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("sidecar: writing %q: %w", path, err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func sortedKeys(s catalog.StringSet) []string {
	if len(s) == 0 {
		return nil
	}
	return s.Slice()
}

// parseFlexibleUUID accepts both dashed and bare-hex uid forms, per
// spec.md §4.2's read contract.
func parseFlexibleUUID(s string) (uuid.UUID, error) {
	if u, err := uuid.Parse(s); err == nil {
		return u, nil
	}
	if len(s) == 32 {
		dashed := s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
		return uuid.Parse(dashed)
	}
	return uuid.UUID{}, fmt.Errorf("sidecar: invalid uuid %q", s)
}
