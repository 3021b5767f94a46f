package rpcfront

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/query"
)

// Wire method names, per spec.md §4.6.
const (
	methodPing              = "ping"
	methodQuery             = "query"
	methodSimilar           = "similar"
	methodSimilarByHash     = "similar_by_hash"
	methodGet               = "get"
	methodUpdate            = "update"
	methodDelete            = "delete"
	methodCompleteUIDPrefix = "complete_uid_prefix"
	methodTagComplete       = "tag_complete"
	methodFindDuplicates    = "find_duplicates"
)

// RecordWire is the JSON-over-the-wire form of catalog.Record: plain
// strings in place of uuid.UUID/*big.Int/time.Time so the payload needs
// no custom marshalling on either end of the socket.
type RecordWire struct {
	UID         string   `json:"uid"`
	Hash        string   `json:"hash"`
	Caption     string   `json:"caption"`
	Authors     []string `json:"authors"`
	Keywords    []string `json:"keywords"`
	Source      string   `json:"source"`
	GroupID     string   `json:"group_id,omitempty"`
	Collections []string `json:"collections"`
	Rating      string   `json:"rating"`
	Date        string   `json:"date"`
	LastUpdated string   `json:"last_updated"`
	SourceOther []string `json:"source_other,omitempty"`
	SourceVia   []string `json:"source_via,omitempty"`
}

func recordToWire(rec *catalog.Record, hashBits int) RecordWire {
	w := RecordWire{
		UID:         rec.UID.String(),
		Hash:        catalog.HashHex(rec.Hash, hashBits),
		Caption:     rec.Caption,
		Authors:     rec.Authors,
		Keywords:    rec.Keywords.Slice(),
		Source:      rec.Source,
		Collections: rec.Collections.Slice(),
		Rating:      rec.Rating.String(),
		Date:        rec.Date.UTC().Format(time.RFC3339Nano),
		LastUpdated: rec.LastUpdated.UTC().Format(time.RFC3339Nano),
		SourceOther: catalog.StringSet(rec.SourceOther).Slice(),
		SourceVia:   catalog.StringSet(rec.SourceVia).Slice(),
	}
	if rec.GroupID != nil {
		w.GroupID = rec.GroupID.String()
	}
	return w
}

func wireToRecord(w RecordWire) (*catalog.Record, error) {
	uid, err := uuid.Parse(w.UID)
	if err != nil {
		return nil, fmt.Errorf("rpcfront: invalid uid %q: %w", w.UID, err)
	}
	hash, err := catalog.ParseHashHex(w.Hash)
	if err != nil {
		return nil, err
	}
	rating, err := catalog.ParseRating(w.Rating)
	if err != nil {
		return nil, err
	}

	rec := &catalog.Record{
		UID:         uid,
		Hash:        hash,
		Caption:     w.Caption,
		Authors:     w.Authors,
		Keywords:    catalog.NewStringSet(w.Keywords...),
		Source:      w.Source,
		Collections: catalog.NewStringSet(w.Collections...),
		Rating:      rating,
		SourceOther: catalog.URLSet(catalog.NewStringSet(w.SourceOther...)),
		SourceVia:   catalog.URLSet(catalog.NewStringSet(w.SourceVia...)),
	}
	if w.GroupID != "" {
		g, err := uuid.Parse(w.GroupID)
		if err != nil {
			return nil, fmt.Errorf("rpcfront: invalid group_id %q: %w", w.GroupID, err)
		}
		rec.GroupID = &g
	}
	if w.Date != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Date)
		if err != nil {
			return nil, fmt.Errorf("rpcfront: invalid date %q: %w", w.Date, err)
		}
		rec.Date = t
	}
	if w.LastUpdated != "" {
		t, err := time.Parse(time.RFC3339Nano, w.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("rpcfront: invalid last_updated %q: %w", w.LastUpdated, err)
		}
		rec.LastUpdated = t
	}
	return rec, nil
}

// QueryParams is the request body for the "query" method, mirroring
// query.Options field-for-field.
type QueryParams struct {
	Keyword    []string `json:"keyword,omitempty"`
	NotKeyword []string `json:"not_keyword,omitempty"`
	Author     *string  `json:"author,omitempty"`
	Caption    *string  `json:"caption,omitempty"`
	Source     *string  `json:"source,omitempty"`
	Rating     *string  `json:"rating,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Random     bool     `json:"random,omitempty"`
}

func (p QueryParams) toOptions() query.Options {
	return query.Options{
		Keyword:    p.Keyword,
		NotKeyword: p.NotKeyword,
		Author:     p.Author,
		Caption:    p.Caption,
		Source:     p.Source,
		Rating:     p.Rating,
		Limit:      p.Limit,
		Random:     p.Random,
	}
}

// QueryResult is the "query" method's response: uids in result order.
type QueryResult struct {
	UIDs []string `json:"uids"`
}

// SimilarParams is the request body for "similar".
type SimilarParams struct {
	UID       string  `json:"uid"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// SimilarByHashParams is the request body for "similar_by_hash".
type SimilarByHashParams struct {
	Hash      string  `json:"hash"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// SimilarityEntry is one match in a similarity response.
type SimilarityEntry struct {
	UID        string  `json:"uid"`
	Similarity float64 `json:"similarity"`
}

func similarityResultsToWire(results []query.SimilarityResult) []SimilarityEntry {
	out := make([]SimilarityEntry, len(results))
	for i, r := range results {
		out[i] = SimilarityEntry{UID: r.UID.String(), Similarity: r.Similarity}
	}
	return out
}

// GetParams is the request body for "get".
type GetParams struct {
	UID string `json:"uid"`
}

// UpdateParams is the request body for "update": the full replacement
// record, keyed by its own uid.
type UpdateParams struct {
	Record RecordWire `json:"record"`
}

// DeleteParams is the request body for "delete".
type DeleteParams struct {
	UID string `json:"uid"`
}

// PrefixParams is the request body for "complete_uid_prefix" and
// "tag_complete".
type PrefixParams struct {
	Prefix string `json:"prefix"`
}

// StringListResult wraps a plain string slice response.
type StringListResult struct {
	Values []string `json:"values"`
}

// DuplicatesResult is the "find_duplicates" response: hash hex to its
// sharing uids.
type DuplicatesResult struct {
	Groups map[string][]string `json:"groups"`
}
