package catalog

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/google/uuid"
)

var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary

// Rating is the image safety classification of spec.md §3.
type Rating byte

const (
	RatingNone         Rating = 0
	RatingSafe         Rating = 's'
	RatingNudity       Rating = 'n'
	RatingQuestionable Rating = 'q'
	RatingExplicit     Rating = 'e'
)

// String returns the single-character wire form, or "" for RatingNone.
func (r Rating) String() string {
	if r == RatingNone {
		return ""
	}
	return string(rune(r))
}

// ParseRating parses the single-character wire form. An empty string maps
// to RatingNone.
func ParseRating(s string) (Rating, error) {
	switch s {
	case "":
		return RatingNone, nil
	case "s":
		return RatingSafe, nil
	case "n":
		return RatingNudity, nil
	case "q":
		return RatingQuestionable, nil
	case "e":
		return RatingExplicit, nil
	default:
		return RatingNone, fmt.Errorf("catalog: invalid rating %q", s)
	}
}

// StringSet is an unordered set of short tokens — the representation for
// Record.Keywords and Record.Collections.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from a slice, deduplicating.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s StringSet) Add(v string) { s[v] = struct{}{} }

func (s StringSet) Remove(v string) { delete(s, v) }

// Slice returns the set's members sorted lexically, for deterministic
// output (serialization, tests, RPC replies).
func (s StringSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// URLSet is a StringSet that round-trips through the database as a JSON
// array text column (spec.md §4.3: "source_other and source_via are
// stored as JSON arrays in their text columns with custom adapters").
type URLSet StringSet

func (u URLSet) Value() (driver.Value, error) {
	if len(u) == 0 {
		return nil, nil
	}
	data, err := jsonc.Marshal(StringSet(u).Slice())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (u *URLSet) Scan(src any) error {
	if src == nil {
		*u = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("catalog: cannot scan %T into URLSet", src)
	}
	if raw == "" {
		*u = nil
		return nil
	}
	var items []string
	if err := jsonc.Unmarshal([]byte(raw), &items); err != nil {
		return fmt.Errorf("catalog: decoding URLSet: %w", err)
	}
	*u = URLSet(NewStringSet(items...))
	return nil
}

// Record is the metadata of one image, per spec.md §3.
type Record struct {
	UID  uuid.UUID
	Hash *big.Int

	Caption     string
	Authors     []string
	Keywords    StringSet
	Source      string
	GroupID     *uuid.UUID
	Collections StringSet
	Rating      Rating

	Date        time.Time
	LastUpdated time.Time

	SourceOther URLSet
	SourceVia   URLSet
}

// Author is the canonical single-author accessor: the first element of
// Authors, or "" if there are none (spec.md §9, Open Question c).
func (r *Record) Author() string {
	if len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// SetAuthor replaces Authors with a single-element list, or clears it.
func (r *Record) SetAuthor(name string) {
	if name == "" {
		r.Authors = nil
		return
	}
	r.Authors = []string{name}
}

// HashHex returns the canonical zero-padded hex form of Hash at the given
// bit width (spec.md §3: "Hex-string is the canonical textual form").
func HashHex(h *big.Int, bits int) string {
	if h == nil {
		return ""
	}
	width := (bits + 3) / 4
	s := h.Text(16)
	if len(s) < width {
		s = zeroPad(s, width)
	}
	return s
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := make([]byte, width-len(s))
	for i := range pad {
		pad[i] = '0'
	}
	return string(pad) + s
}

// ParseHashHex parses a canonical hex hash string back to its integer form.
func ParseHashHex(s string) (*big.Int, error) {
	h, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("catalog: invalid hash hex %q", s)
	}
	return h, nil
}
