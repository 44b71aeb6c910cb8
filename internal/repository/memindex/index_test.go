package memindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/distsearch/internal/domain/search/request"
)

func fixture(t *testing.T) *Index {
	t.Helper()
	ix := New("id")
	docs := []map[string]any{
		{"id": "1", "color": "red", "price": 10.0, "tags": []any{"a", "b"}},
		{"id": "2", "color": "red", "price": 25.0},
		{"id": "3", "color": "blue", "price": 5.0, "tags": []any{"b"}},
		{"id": "4", "color": "green"},
	}
	for _, d := range docs {
		if err := ix.Add(d); err != nil {
			t.Fatalf("add %v: %v", d["id"], err)
		}
	}
	return ix
}

func search(t *testing.T, ix *Index, pairs ...string) []string {
	t.Helper()
	req, err := request.Parse(params.Of(pairs...), 10)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	hits, err := ix.Search(context.Background(), &req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	ids := make([]string, len(hits.Ranked))
	for i, h := range hits.Ranked {
		ids[i] = h.ID
	}
	return ids
}

func TestAdd_RequiresKey(t *testing.T) {
	ix := New("id")
	err := ix.Add(map[string]any{"color": "red"})
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest, got %v", err)
	}
}

func TestAdd_ReplacesExistingKey(t *testing.T) {
	ix := fixture(t)
	if err := ix.Add(map[string]any{"id": "1", "color": "blue"}); err != nil {
		t.Fatal(err)
	}
	if n := ix.NumDocs(); n != 4 {
		t.Errorf("expected 4 live docs, got %d", n)
	}
	if n := ix.TermDocs("color", "red").GetCardinality(); n != 1 {
		t.Errorf("expected 1 red doc after replace, got %d", n)
	}
	if n := ix.TermDocs("color", "blue").GetCardinality(); n != 2 {
		t.Errorf("expected 2 blue docs after replace, got %d", n)
	}
}

func TestTerms_Sorted(t *testing.T) {
	ix := fixture(t)
	got := strings.Join(ix.Terms("color"), ",")
	if got != "blue,green,red" {
		t.Errorf("expected blue,green,red, got %s", got)
	}
	if terms := ix.Terms("missing"); len(terms) != 0 {
		t.Errorf("expected no terms, got %v", terms)
	}
}

func TestMatch_Range(t *testing.T) {
	ix := fixture(t)
	expr, err := filter.Parse("price:[5 TO 10]")
	if err != nil {
		t.Fatal(err)
	}
	if n := ix.Match(expr.Must()[0]).GetCardinality(); n != 2 {
		t.Errorf("expected 2 docs in [5,10], got %d", n)
	}
}

func TestSearch_FilterAndSort(t *testing.T) {
	ix := fixture(t)
	got := search(t, ix, "q", "*:*", "fq", "price:*", "sort", "price asc")
	if strings.Join(got, ",") != "3,1,2" {
		t.Errorf("expected 3,1,2, got %v", got)
	}
}

func TestSearch_MissingSortValueLast(t *testing.T) {
	ix := fixture(t)
	got := search(t, ix, "q", "*:*", "sort", "price desc")
	if strings.Join(got, ",") != "2,1,3,4" {
		t.Errorf("expected 2,1,3,4, got %v", got)
	}
}

func TestSearch_RareTermsScoreHigher(t *testing.T) {
	ix := fixture(t)
	got := search(t, ix, "q", "color:red OR color:blue")
	if len(got) != 3 || got[0] != "3" {
		t.Errorf("expected the blue document first, got %v", got)
	}
}

func TestSearch_FunctionQuery(t *testing.T) {
	ix := fixture(t)
	got := search(t, ix, "q", "{!func}price")
	if strings.Join(got, ",") != "2,1,3" {
		t.Errorf("expected 2,1,3, got %v", got)
	}
}

func TestSearch_Window(t *testing.T) {
	ix := fixture(t)
	req, err := request.Parse(params.Of("sort", "id asc", "start", "1", "rows", "2"), 10)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := ix.Search(context.Background(), &req)
	if err != nil {
		t.Fatal(err)
	}
	if hits.NumFound != 4 {
		t.Errorf("expected numFound 4, got %d", hits.NumFound)
	}
	if len(hits.Ranked) != 2 || hits.Ranked[0].ID != "2" {
		t.Errorf("unexpected window: %+v", hits.Ranked)
	}
	if hits.DocSet.GetCardinality() != 4 {
		t.Errorf("doc set must cover every match, got %d", hits.DocSet.GetCardinality())
	}
}

func TestSearch_BadQuery(t *testing.T) {
	ix := fixture(t)
	req, err := request.Parse(params.Of("q", "no-colon-here"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Search(context.Background(), &req); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest, got %v", err)
	}
}

func TestFetch_SkipsUnknown(t *testing.T) {
	ix := fixture(t)
	docs, err := ix.Fetch(context.Background(), []string{"3", "nope", "1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Get("id") != "3" || docs[1].Get("id") != "1" {
		t.Errorf("unexpected docs: %+v", docs)
	}
	docs[0].Set("color", "changed")
	again, _ := ix.Fetch(context.Background(), []string{"3"})
	if again[0].Get("color") != "blue" {
		t.Error("fetched documents must be copies")
	}
}

func TestLoad_JSONLines(t *testing.T) {
	ix := New("id")
	input := `{"id":"a","color":"red"}

{"id":"b","color":"blue","price":3}
`
	n, err := ix.Load(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || ix.NumDocs() != 2 {
		t.Errorf("expected 2 docs, got n=%d live=%d", n, ix.NumDocs())
	}
}

func TestLoad_BadLine(t *testing.T) {
	ix := New("id")
	_, err := ix.Load(strings.NewReader("{\"id\":\"a\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error naming line 2, got %v", err)
	}
}
