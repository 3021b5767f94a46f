// Package catalog is the relational store of record metadata (component C):
// one row per image plus multi-valued keyword and collection tables.
//
// Grounded on original_source/cutespam/db.py's schema and query shapes;
// realized over database/sql with modernc.org/sqlite rather than a
// cgo-based driver, in keeping with the rest of the stack's pure-Go
// dependency surface.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05.000"

const schema = `
CREATE TABLE IF NOT EXISTS record (
	uid          TEXT PRIMARY KEY,
	last_updated TEXT NOT NULL,
	hash         TEXT NOT NULL,
	caption      TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	group_id     TEXT,
	date         TEXT NOT NULL,
	rating       TEXT NOT NULL DEFAULT '',
	source_other TEXT,
	source_via   TEXT
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS record_hash_idx ON record(hash);

CREATE TABLE IF NOT EXISTS record_keywords (
	uid     TEXT NOT NULL REFERENCES record(uid) ON DELETE CASCADE,
	keyword TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS record_keywords_uk ON record_keywords(uid, keyword);
CREATE INDEX IF NOT EXISTS record_keywords_kw_idx ON record_keywords(keyword);

CREATE TABLE IF NOT EXISTS record_collections (
	uid        TEXT NOT NULL REFERENCES record(uid) ON DELETE CASCADE,
	collection TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS record_collections_uk ON record_collections(uid, collection);
`

// Catalog wraps the SQLite connection. HashBits fixes the hex width used
// to store and compare hash columns, and TagPattern is the compiled form
// of the configured keyword/collection regex (spec.md §4.3).
type Catalog struct {
	db         *sql.DB
	HashBits   int
	TagPattern *regexp.Regexp
}

// Open opens (creating if absent) the SQLite file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string, hashBits int, tagRegex string) (*Catalog, error) {
	pattern, err := regexp.Compile(tagRegex)
	if err != nil {
		return nil, fmt.Errorf("catalog: compiling tag regex: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline, §5 global lock

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: creating schema: %w", err)
	}

	return &Catalog{db: db, HashBits: hashBits, TagPattern: pattern}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) checkTag(s string) error {
	if !c.TagPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidKeyword, s)
	}
	return nil
}

// Get returns the Record for uid, reconstructing Authors from the
// primary author column plus any author:<n> keywords. Only Authors[0]
// (the primary author column) has a guaranteed position; the rest come
// back in loadKeywords' lexical order, not the original write order.
func (c *Catalog) Get(ctx context.Context, uid uuid.UUID) (*Record, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT last_updated, hash, caption, author, source, group_id, date, rating, source_other, source_via
		FROM record WHERE uid = ?`, uid.String())

	rec := &Record{UID: uid}
	var (
		lastUpdated, hashHex, author, date, rating string
		groupID                                    sql.NullString
		sourceOther, sourceVia                      sql.NullString
	)
	if err := row.Scan(&lastUpdated, &hashHex, &rec.Caption, &author, &rec.Source,
		&groupID, &date, &rating, &sourceOther, &sourceVia); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSuchUID
		}
		return nil, fmt.Errorf("catalog: get %s: %w", uid, err)
	}

	h, err := ParseHashHex(hashHex)
	if err != nil {
		return nil, err
	}
	rec.Hash = h

	rec.LastUpdated, err = time.Parse(timeLayout, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing last_updated: %w", err)
	}
	rec.Date, err = time.Parse(timeLayout, date)
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing date: %w", err)
	}
	rec.Rating, err = ParseRating(rating)
	if err != nil {
		return nil, err
	}
	if groupID.Valid && groupID.String != "" {
		g, err := uuid.Parse(groupID.String)
		if err != nil {
			return nil, fmt.Errorf("catalog: parsing group_id: %w", err)
		}
		rec.GroupID = &g
	}
	if sourceOther.Valid {
		if err := rec.SourceOther.Scan(sourceOther.String); err != nil {
			return nil, err
		}
	}
	if sourceVia.Valid {
		if err := rec.SourceVia.Scan(sourceVia.String); err != nil {
			return nil, err
		}
	}

	keywords, keywordAuthors, err := c.loadKeywords(ctx, uid)
	if err != nil {
		return nil, err
	}
	rec.Keywords = keywords

	rec.Authors = nil
	if author != "" {
		rec.Authors = append(rec.Authors, author)
	}
	for _, a := range keywordAuthors {
		if a == author {
			continue
		}
		rec.Authors = append(rec.Authors, a)
	}

	collections, err := c.loadCollections(ctx, uid)
	if err != nil {
		return nil, err
	}
	rec.Collections = collections

	return rec, nil
}

// loadKeywords returns the record's full keyword set (author:<name>
// tokens included, per the keyword-regeneration pass in keywords.go) and
// the list of author names named by those tokens.
func (c *Catalog) loadKeywords(ctx context.Context, uid uuid.UUID) (StringSet, []string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT keyword FROM record_keywords WHERE uid = ?`, uid.String())
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: loading keywords: %w", err)
	}
	defer rows.Close()

	set := NewStringSet()
	var authors []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, nil, err
		}
		set.Add(kw)
		if name, ok := strings.CutPrefix(kw, "author:"); ok {
			authors = append(authors, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	sort.Strings(authors)
	return set, authors, nil
}

func (c *Catalog) loadCollections(ctx context.Context, uid uuid.UUID) (StringSet, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT collection FROM record_collections WHERE uid = ?`, uid.String())
	if err != nil {
		return nil, fmt.Errorf("catalog: loading collections: %w", err)
	}
	defer rows.Close()

	set := NewStringSet()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		set.Add(col)
	}
	return set, rows.Err()
}

// Insert adds a new record. LastUpdated and Date default to now (at
// millisecond precision) if left zero.
func (c *Catalog) Insert(ctx context.Context, rec *Record) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = now
	}
	if rec.Date.IsZero() {
		rec.Date = now
	}
	RegenerateKeywords(rec)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var groupID any
	if rec.GroupID != nil {
		groupID = rec.GroupID.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO record (uid, last_updated, hash, caption, author, source, group_id, date, rating, source_other, source_via)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UID.String(), rec.LastUpdated.Format(timeLayout), HashHex(rec.Hash, c.HashBits),
		rec.Caption, rec.Author(), rec.Source, groupID, rec.Date.Format(timeLayout),
		rec.Rating.String(), rec.SourceOther, rec.SourceVia)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUIDConflict
		}
		return fmt.Errorf("catalog: insert %s: %w", rec.UID, err)
	}

	if err := c.writeKeywords(ctx, tx, rec); err != nil {
		return err
	}
	if err := c.writeCollections(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the record at rec.UID with rec's fields, stamping
// last_updated with ts, or with the current time instead when
// RegenerateKeywords changes the keyword set. The stamp is kept at
// millisecond precision, both in the store and in rec.LastUpdated.
// Fails with ErrNoSuchUID if the uid is unknown.
func (c *Catalog) Update(ctx context.Context, rec *Record, ts time.Time) error {
	if RegenerateKeywords(rec) {
		ts = time.Now().UTC()
	}
	ts = ts.Truncate(time.Millisecond)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var groupID any
	if rec.GroupID != nil {
		groupID = rec.GroupID.String()
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE record SET last_updated=?, hash=?, caption=?, author=?, source=?, group_id=?, date=?, rating=?, source_other=?, source_via=?
		WHERE uid = ?`,
		ts.Format(timeLayout), HashHex(rec.Hash, c.HashBits), rec.Caption, rec.Author(), rec.Source,
		groupID, rec.Date.Format(timeLayout), rec.Rating.String(), rec.SourceOther, rec.SourceVia,
		rec.UID.String())
	if err != nil {
		return fmt.Errorf("catalog: update %s: %w", rec.UID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchUID
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_keywords WHERE uid = ?`, rec.UID.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_collections WHERE uid = ?`, rec.UID.String()); err != nil {
		return err
	}
	if err := c.writeKeywords(ctx, tx, rec); err != nil {
		return err
	}
	if err := c.writeCollections(ctx, tx, rec); err != nil {
		return err
	}

	rec.LastUpdated = ts
	return tx.Commit()
}

// writeKeywords persists rec.Keywords, which by this point already
// carries the author:<name> tokens produced by RegenerateKeywords; the
// record.author column separately holds just the primary author for
// fast exact-match filtering.
func (c *Catalog) writeKeywords(ctx context.Context, tx *sql.Tx, rec *Record) error {
	for kw := range rec.Keywords {
		if err := c.checkTag(kw); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_keywords (uid, keyword) VALUES (?, ?)`, rec.UID.String(), kw); err != nil {
			return fmt.Errorf("catalog: writing keyword %q: %w", kw, err)
		}
	}
	return nil
}

func (c *Catalog) writeCollections(ctx context.Context, tx *sql.Tx, rec *Record) error {
	for col := range rec.Collections {
		if err := c.checkTag(col); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_collections (uid, collection) VALUES (?, ?)`, rec.UID.String(), col); err != nil {
			return fmt.Errorf("catalog: writing collection %q: %w", col, err)
		}
	}
	return nil
}

// Delete removes a record. Returns ErrNoSuchUID if unknown.
func (c *Catalog) Delete(ctx context.Context, uid uuid.UUID) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM record WHERE uid = ?`, uid.String())
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchUID
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM record_keywords WHERE uid = ?`, uid.String()); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM record_collections WHERE uid = ?`, uid.String()); err != nil {
		return err
	}
	return nil
}

// HashRefCount returns how many records currently share the given hash —
// used by the synchronizer's reference counting on delete (spec.md
// §4.4), always called after the record in question has itself already
// been deleted, so the count reflects only the remaining references.
func (c *Catalog) HashRefCount(ctx context.Context, hash string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM record WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("catalog: counting hash refs: %w", err)
	}
	return n, nil
}

// HashRefUIDs returns every uid whose record carries the given hash
// (hex form), used by the query engine to map a trie hit back to rows.
func (c *Catalog) HashRefUIDs(ctx context.Context, hash string) ([]uuid.UUID, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT uid FROM record WHERE hash = ? ORDER BY uid`, hash)
	if err != nil {
		return nil, fmt.Errorf("catalog: uids for hash %q: %w", hash, err)
	}
	defer rows.Close()
	return scanUIDs(rows)
}

// ListAllUIDs returns every uid, optionally in SQLite's pseudo-random order.
func (c *Catalog) ListAllUIDs(ctx context.Context, random bool) ([]uuid.UUID, error) {
	query := `SELECT uid FROM record`
	if random {
		query += ` ORDER BY RANDOM()`
	} else {
		query += ` ORDER BY uid`
	}
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing uids: %w", err)
	}
	defer rows.Close()
	return scanUIDs(rows)
}

// CompleteUIDPrefix returns uids whose dash-stripped hex form begins
// with prefix, for CLI tab-completion.
func (c *Catalog) CompleteUIDPrefix(ctx context.Context, prefix string) ([]uuid.UUID, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT uid FROM record WHERE REPLACE(uid, '-', '') LIKE ? ORDER BY uid`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("catalog: completing uid prefix: %w", err)
	}
	defer rows.Close()
	return scanUIDs(rows)
}

// TagComplete returns distinct keywords (not collections) starting with prefix.
func (c *Catalog) TagComplete(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT keyword FROM record_keywords WHERE keyword LIKE ? ORDER BY keyword`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("catalog: completing tag: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// UIDsWhereField returns uids matching value on the named top-level
// field (author, caption, source, or rating), used by the query engine's
// exact-match filters (spec.md §4.5). An empty value matches rows where
// the column is empty/unset.
func (c *Catalog) UIDsWhereField(ctx context.Context, field, value string) ([]uuid.UUID, error) {
	column, ok := map[string]string{
		"author":  "author",
		"caption": "caption",
		"source":  "source",
		"rating":  "rating",
	}[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	var rows *sql.Rows
	var err error
	if value == "" {
		rows, err = c.db.QueryContext(ctx, `SELECT uid FROM record WHERE `+column+` = '' ORDER BY uid`)
	} else {
		rows, err = c.db.QueryContext(ctx, `SELECT uid FROM record WHERE `+column+` LIKE ? ORDER BY uid`, value)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: uids where %s matches %q: %w", field, value, err)
	}
	defer rows.Close()
	return scanUIDs(rows)
}

// UIDsWithKeyword returns every uid tagged with k.
func (c *Catalog) UIDsWithKeyword(ctx context.Context, k string) ([]uuid.UUID, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT uid FROM record_keywords WHERE keyword = ? ORDER BY uid`, k)
	if err != nil {
		return nil, fmt.Errorf("catalog: uids with keyword %q: %w", k, err)
	}
	defer rows.Close()
	return scanUIDs(rows)
}

// UIDsWithKeywordAll returns the intersection of UIDsWithKeyword across ks.
func (c *Catalog) UIDsWithKeywordAll(ctx context.Context, ks []string) ([]uuid.UUID, error) {
	if len(ks) == 0 {
		return nil, nil
	}
	acc, err := c.UIDsWithKeyword(ctx, ks[0])
	if err != nil {
		return nil, err
	}
	set := uidSet(acc)
	for _, k := range ks[1:] {
		next, err := c.UIDsWithKeyword(ctx, k)
		if err != nil {
			return nil, err
		}
		nset := uidSet(next)
		for u := range set {
			if !nset[u] {
				delete(set, u)
			}
		}
	}
	return sortedUIDs(set), nil
}

// FindDuplicates returns groups of two-or-more uids sharing a hash,
// keyed by that hash's hex form.
func (c *Catalog) FindDuplicates(ctx context.Context) (map[string][]uuid.UUID, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT hash, uid FROM record
		WHERE hash IN (SELECT hash FROM record GROUP BY hash HAVING COUNT(*) > 1)
		ORDER BY hash, uid`)
	if err != nil {
		return nil, fmt.Errorf("catalog: finding duplicates: %w", err)
	}
	defer rows.Close()

	groups := make(map[string][]uuid.UUID)
	for rows.Next() {
		var hashHex, uidStr string
		if err := rows.Scan(&hashHex, &uidStr); err != nil {
			return nil, err
		}
		u, err := uuid.Parse(uidStr)
		if err != nil {
			return nil, err
		}
		groups[hashHex] = append(groups[hashHex], u)
	}
	return groups, rows.Err()
}

func scanUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func uidSet(uids []uuid.UUID) map[uuid.UUID]bool {
	m := make(map[uuid.UUID]bool, len(uids))
	for _, u := range uids {
		m[u] = true
	}
	return m
}

func sortedUIDs(m map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed")
}
