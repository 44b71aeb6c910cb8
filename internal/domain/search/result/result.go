package result

import (
	"encoding/json"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
)

// Document is a stored document: ordered field values.
type Document struct {
	fields *namedlist.NamedList
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{fields: namedlist.New(8)}
}

// Set replaces a field value, appending it when absent.
func (d *Document) Set(name string, value any) { d.fields.Set(name, value) }

// Get returns a field value, or nil.
func (d *Document) Get(name string) any { return d.fields.Get(name) }

// Remove deletes a field.
func (d *Document) Remove(name string) { d.fields.Remove(name) }

// Fields returns the underlying ordered field list.
func (d *Document) Fields() *namedlist.NamedList { return d.fields }

// Clone returns an independent copy.
func (d *Document) Clone() *Document { return &Document{fields: d.fields.Clone()} }

// MarshalJSON renders the document as an object in field order.
func (d *Document) MarshalJSON() ([]byte, error) { return d.fields.MarshalJSON() }

// DocList is a page of ranked documents.
type DocList struct {
	NumFound int64
	Start    int
	MaxScore *float64
	Docs     []*Document
}

type docListJSON struct {
	NumFound int64       `json:"numFound"`
	Start    int         `json:"start"`
	MaxScore *float64    `json:"maxScore,omitempty"`
	Docs     []*Document `json:"docs"`
}

// MarshalJSON renders the list in the wire layout.
func (l *DocList) MarshalJSON() ([]byte, error) {
	docs := l.Docs
	if docs == nil {
		docs = []*Document{}
	}
	return json.Marshal(docListJSON{NumFound: l.NumFound, Start: l.Start, MaxScore: l.MaxScore, Docs: docs})
}

// Hit is one ranked match from a local index.
type Hit struct {
	Doc        uint32
	ID         string
	Score      float64
	SortValues []any
}

// Hits is the outcome of a local search.
type Hits struct {
	// DocSet holds every matching document, not just the returned window.
	DocSet   *roaring.Bitmap
	Ranked   []Hit
	NumFound int64
	MaxScore float64
	// Partial is set when the time budget ran out before all documents were scored.
	Partial bool
}
