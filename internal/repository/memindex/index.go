// Package memindex is an in-memory shard core: stored documents with roaring
// bitmap postings per field term.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/domain/search/result"
)

// Index is a shard's local document set. It is safe for concurrent reads
// and writes.
type Index struct {
	mu        sync.RWMutex
	uniqueKey string

	docs   []*result.Document
	values []map[string][]any
	ids    map[string]uint32

	postings  map[string]map[string]*roaring.Bitmap
	fieldDocs map[string]*roaring.Bitmap
	live      *roaring.Bitmap
	// sortedTerms caches Terms per field until the next write.
	sortedTerms map[string][]string
}

// New creates an empty index keyed by uniqueKey.
func New(uniqueKey string) *Index {
	return &Index{
		uniqueKey:   uniqueKey,
		ids:         make(map[string]uint32),
		postings:    make(map[string]map[string]*roaring.Bitmap),
		fieldDocs:   make(map[string]*roaring.Bitmap),
		live:        roaring.New(),
		sortedTerms: make(map[string][]string),
	}
}

// UniqueKey names the document key field.
func (ix *Index) UniqueKey() string { return ix.uniqueKey }

// term renders a stored value as an indexed term.
func term(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Add indexes a document. A document with a key already present replaces
// the old one.
func (ix *Index) Add(fields map[string]any) error {
	key, ok := term(fields[ix.uniqueKey])
	if !ok || key == "" {
		return fmt.Errorf("%w: document without %q", domain.ErrBadRequest, ix.uniqueKey)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.ids[key]; ok {
		ix.live.Remove(old)
		for field, terms := range ix.postings {
			for _, bm := range terms {
				bm.Remove(old)
			}
			ix.fieldDocs[field].Remove(old)
		}
	}

	doc := uint32(len(ix.docs))
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	// Key first, then the rest in name order.
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == ix.uniqueKey) != (names[j] == ix.uniqueKey) {
			return names[i] == ix.uniqueKey
		}
		return names[i] < names[j]
	})

	stored := result.NewDocument()
	vals := make(map[string][]any, len(fields))
	for _, name := range names {
		raw := fields[name]
		stored.Set(name, raw)
		var list []any
		if arr, ok := raw.([]any); ok {
			list = arr
		} else if raw != nil {
			list = []any{raw}
		}
		vals[name] = list
		for _, v := range list {
			t, ok := term(v)
			if !ok {
				continue
			}
			terms := ix.postings[name]
			if terms == nil {
				terms = make(map[string]*roaring.Bitmap)
				ix.postings[name] = terms
				ix.fieldDocs[name] = roaring.New()
			}
			bm := terms[t]
			if bm == nil {
				bm = roaring.New()
				terms[t] = bm
			}
			bm.Add(doc)
			ix.fieldDocs[name].Add(doc)
		}
		delete(ix.sortedTerms, name)
	}

	ix.docs = append(ix.docs, stored)
	ix.values = append(ix.values, vals)
	ix.ids[key] = doc
	ix.live.Add(doc)
	return nil
}

// NumDocs returns the number of live documents.
func (ix *Index) NumDocs() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live.GetCardinality()
}

// Fetch returns copies of stored documents in ids order, skipping unknown keys.
func (ix *Index) Fetch(_ context.Context, ids []string) ([]*result.Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*result.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := ix.ids[id]; ok {
			out = append(out, ix.docs[doc].Clone())
		}
	}
	return out, nil
}

// Values returns a document's stored values for field.
func (ix *Index) Values(doc uint32, field string) []any {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if int(doc) >= len(ix.values) {
		return nil
	}
	return ix.values[doc][field]
}

// Terms returns the indexed terms of field in lexical order.
func (ix *Index) Terms(field string) []string {
	ix.mu.RLock()
	cached, ok := ix.sortedTerms[field]
	ix.mu.RUnlock()
	if ok {
		return cached
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	terms := make([]string, 0, len(ix.postings[field]))
	for t, bm := range ix.postings[field] {
		if !bm.IsEmpty() {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)
	ix.sortedTerms[field] = terms
	return terms
}

// TermDocs returns the documents holding term in field. The bitmap is
// shared and must not be modified.
func (ix *Index) TermDocs(field, t string) *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if bm := ix.postings[field][t]; bm != nil {
		return bm
	}
	return roaring.New()
}

// FieldDocs returns the documents with any value in field. The bitmap is
// shared and must not be modified.
func (ix *Index) FieldDocs(field string) *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if bm := ix.fieldDocs[field]; bm != nil {
		return bm
	}
	return roaring.New()
}

// Match returns the documents satisfying one filter condition.
func (ix *Index) Match(c filter.Condition) *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.match(c)
}

func (ix *Index) match(c filter.Condition) *roaring.Bitmap {
	switch {
	case c.IsAll():
		return ix.live.Clone()
	case c.IsExists():
		if bm := ix.fieldDocs[c.Key()]; bm != nil {
			return bm.Clone()
		}
	case c.IsMatch():
		if bm := ix.postings[c.Key()][c.Match()]; bm != nil {
			return bm.Clone()
		}
	case c.IsRange():
		out := roaring.New()
		docs := ix.fieldDocs[c.Key()]
		if docs == nil {
			return out
		}
		r := c.Range()
		it := docs.Iterator()
		for it.HasNext() {
			doc := it.Next()
			for _, v := range ix.values[doc][c.Key()] {
				if f, ok := numeric(v); ok && r.Contains(f) {
					out.Add(doc)
					break
				}
			}
		}
		return out
	}
	return roaring.New()
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, set, err := filter.ParseBound(n)
		return f, set && err == nil
	}
	return 0, false
}
