package facet

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/shard"
	"github.com/kailas-cloud/distsearch/internal/repository/memindex"
	"github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// colorIndex holds 8 red, 4 green and 1 uncolored document.
func colorIndex(t *testing.T) *memindex.Index {
	t.Helper()
	ix := memindex.New("id")
	add := func(id int, fields map[string]any) {
		fields["id"] = fmt.Sprint(id)
		require.NoError(t, ix.Add(fields))
	}
	for i := 0; i < 8; i++ {
		add(i, map[string]any{"color": "red", "size": []any{"s", "m"}[i%2], "price": float64(i)})
	}
	for i := 8; i < 12; i++ {
		add(i, map[string]any{"color": "green", "size": "s", "price": float64(i * 2)})
	}
	add(12, map[string]any{"size": "l"})
	return ix
}

func all(ix *memindex.Index) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, ix.NumDocs())
	return bm
}

func TestTermCounts_CountSort(t *testing.T) {
	ix := colorIndex(t)
	ff, err := ParseFieldFacet(params.Of(ParamMissing, "true"), "color")
	require.NoError(t, err)

	res := termCounts(ix, all(ix), ff)
	assert.Equal(t, []string{"red", "green", ""}, names(res))
	assert.Equal(t, int64(8), res.Get("red"))
	assert.Equal(t, int64(4), res.Get("green"))
	assert.Equal(t, int64(1), res.Value(2))
}

func TestTermCounts_ListedTermsKeepOrder(t *testing.T) {
	ix := colorIndex(t)
	ff, err := ParseFieldFacet(params.Of("color__terms", "green,blue"), "{!terms=$color__terms}color")
	require.NoError(t, err)

	res := termCounts(ix, all(ix), ff)
	assert.Equal(t, []string{"green", "blue"}, names(res))
	assert.Equal(t, int64(0), res.Get("blue"))
}

func TestTermCounts_IndexSortWindow(t *testing.T) {
	ix := colorIndex(t)
	ff, err := ParseFieldFacet(params.Of(ParamSort, SortIndex, ParamLimit, "1", ParamOffset, "1"), "size")
	require.NoError(t, err)

	res := termCounts(ix, all(ix), ff)
	assert.Equal(t, []string{"m"}, names(res))
}

func TestParseFieldFacet(t *testing.T) {
	t.Run("default sort follows limit", func(t *testing.T) {
		ff, err := ParseFieldFacet(params.Of("f.color.facet.limit", "-1"), "color")
		require.NoError(t, err)
		assert.Equal(t, SortIndex, ff.Sort)

		ff, err = ParseFieldFacet(params.New(), "color")
		require.NoError(t, err)
		assert.Equal(t, SortCount, ff.Sort)
		assert.Equal(t, defaultLimit, ff.Limit)
	})
	t.Run("key local param", func(t *testing.T) {
		ff, err := ParseFieldFacet(params.New(), "{!key=c}color")
		require.NoError(t, err)
		assert.Equal(t, "c", ff.Key)
		assert.Equal(t, "color", ff.Field)
	})
	t.Run("negative offset", func(t *testing.T) {
		_, err := ParseFieldFacet(params.Of(ParamOffset, "-1"), "color")
		assert.ErrorIs(t, err, domain.ErrBadRequest)
	})
	t.Run("unknown sort", func(t *testing.T) {
		_, err := ParseFieldFacet(params.Of(ParamSort, "random"), "color")
		assert.ErrorIs(t, err, domain.ErrBadRequest)
	})
}

func TestParseOptions_Disabled(t *testing.T) {
	opts, err := ParseOptions(params.Of(ParamField, "color"))
	require.NoError(t, err)
	assert.False(t, opts.Enabled)
	assert.Empty(t, opts.Fields)
}

func TestParseOptions_PivotNeedsTwoFields(t *testing.T) {
	_, err := ParseOptions(params.Of(ParamFacet, "true", ParamPivot, "color"))
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestSimpleFacets_Queries(t *testing.T) {
	ix := colorIndex(t)
	p := params.Of(ParamFacet, "true", ParamQuery, "color:red AND price:[0 TO 3]", ParamQuery, "{!key=big}price:[10 TO *]")
	opts, err := ParseOptions(p)
	require.NoError(t, err)

	sf := &simpleFacets{core: ix, params: p, docs: all(ix)}
	out, err := sf.counts(opts)
	require.NoError(t, err)

	queries := out.GetList(keyFacetQueries)
	assert.Equal(t, int64(4), queries.Get("color:red AND price:[0 TO 3]"))
	assert.Equal(t, int64(4), queries.Get("big"))
	assert.Nil(t, out.Get(keyFacetPivot))
}

func TestSimpleFacets_BadQuery(t *testing.T) {
	ix := colorIndex(t)
	p := params.Of(ParamFacet, "true", ParamQuery, "nocolon")
	opts, err := ParseOptions(p)
	require.NoError(t, err)

	sf := &simpleFacets{core: ix, params: p, docs: all(ix)}
	_, err = sf.counts(opts)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCountRange(t *testing.T) {
	ix := colorIndex(t)
	p := params.Of(ParamRangeStart, "0", ParamRangeEnd, "10", ParamRangeGap, "5", ParamRangeOther, "all")
	rf, err := parseRangeFacet(p, "price", rangeParams)
	require.NoError(t, err)

	res, err := countRange(ix, all(ix), rf)
	require.NoError(t, err)

	buckets := res.GetList(keyCounts)
	require.NotNil(t, buckets)
	assert.Equal(t, []string{"0", "5"}, names(buckets))
	assert.Equal(t, int64(5), buckets.Get("0"))
	assert.Equal(t, int64(3), buckets.Get("5"))
	assert.Equal(t, int64(0), res.Get(keyBefore))
	assert.Equal(t, int64(4), res.Get(keyAfter))
	assert.Equal(t, int64(8), res.Get(keyBetween))
}

func TestCountRange_DateGap(t *testing.T) {
	ix := memindex.New("id")
	require.NoError(t, ix.Add(map[string]any{"id": "1", "ts": "2024-01-01T10:00:00Z"}))
	require.NoError(t, ix.Add(map[string]any{"id": "2", "ts": "2024-01-02T10:00:00Z"}))
	require.NoError(t, ix.Add(map[string]any{"id": "3", "ts": "2024-01-02T11:00:00Z"}))

	p := params.Of(ParamDateStart, "2024-01-01T00:00:00Z", ParamDateEnd, "2024-01-03T00:00:00Z", ParamDateGap, "+1DAY")
	rf, err := parseRangeFacet(p, "ts", dateParams)
	require.NoError(t, err)

	res, err := countRange(ix, all(ix), rf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Get("2024-01-01T00:00:00Z"))
	assert.Equal(t, int64(2), res.Get("2024-01-02T00:00:00Z"))
	assert.Equal(t, "2024-01-03T00:00:00Z", res.Get(keyEnd))
}

func TestParseGap_Invalid(t *testing.T) {
	for _, gap := range []string{"0", "-5", "abc"} {
		_, err := parseGap(gap, false)
		assert.ErrorIs(t, err, domain.ErrBadRequest, gap)
	}
	for _, gap := range []string{"+DAY", "+1FORTNIGHT", "+0DAY"} {
		_, err := parseGap(gap, true)
		assert.ErrorIs(t, err, domain.ErrBadRequest, gap)
	}
}

func TestMergeRanges_SumsAndPrunes(t *testing.T) {
	shardA := namedlist.Of("price", namedlist.Of(
		keyCounts, namedlist.Of("0", int64(2), "5", int64(0)),
		keyGap, "5", keyStart, 0.0, keyEnd, 10.0,
	))
	shardB := namedlist.Of("price", namedlist.Of(
		keyCounts, namedlist.Of("0", int64(1), "5", int64(0)),
		keyGap, "5", keyStart, 0.0, keyEnd, 10.0,
	))

	acc := mergeRanges(nil, shardA)
	acc = mergeRanges(acc, shardB)

	counts := acc.GetList("price").GetList(keyCounts)
	assert.Equal(t, int64(3), counts.Get("0"))
	assert.Equal(t, "5", acc.GetList("price").Get(keyGap))
	assert.Equal(t, int64(2), shardA.GetList("price").GetList(keyCounts).Get("0"), "shard payload must not change")

	pruneBuckets(acc, RangeFacet{Key: "price", MinCount: 1})
	assert.Equal(t, []string{"0"}, names(acc.GetList("price").GetList(keyCounts)))
}

func TestPivot(t *testing.T) {
	ix := colorIndex(t)
	p := params.Of(ParamFacet, "true", ParamPivot, "color,size", ParamMissing, "true")
	opts, err := ParseOptions(p)
	require.NoError(t, err)
	require.Len(t, opts.Pivots, 1)

	helper := &pivotHelper{core: ix, params: p}
	nodes, err := helper.process(all(ix), opts.Pivots[0])
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	red := nodes[0]
	assert.Equal(t, "red", red.Get("value"))
	assert.Equal(t, int64(8), red.Get("count"))
	children, _ := red.Get("pivot").([]*namedlist.NamedList)
	require.Len(t, children, 2)
	assert.Equal(t, "size", children[0].Get("field"))
	assert.Equal(t, int64(4), children[0].Get("count"))

	missing := nodes[2]
	assert.Nil(t, missing.Get("value"))
	assert.Equal(t, int64(1), missing.Get("count"))
	leaf, _ := missing.Get("pivot").([]*namedlist.NamedList)
	require.Len(t, leaf, 1)
	assert.Equal(t, "l", leaf[0].Get("value"))
}

func TestProcess_NeedsCore(t *testing.T) {
	c := New(nil)
	rb := search.NewResponseBuilder(params.Of(ParamFacet, "true", ParamField, "color"), nil, nil)
	require.NoError(t, c.Prepare(context.Background(), rb))
	assert.True(t, rb.NeedDocSet)

	err := c.Process(context.Background(), rb)
	assert.True(t, errors.Is(err, domain.ErrServerError))
}

func TestModifyRequest_TopIDs(t *testing.T) {
	c := New(nil)
	p := params.Of(
		ParamFacet, "true",
		ParamField, "color",
		ParamMinCount, "2",
		"f.color.facet.offset", "1",
		ParamLimit, "3",
		ParamPivot, "color,size",
	)
	rb := search.NewResponseBuilder(p, []search.Component{c}, nil)
	rb.Shards = []string{"A", "B"}
	require.NoError(t, c.Prepare(context.Background(), rb))

	top := shard.NewRequest(shard.PurposeGetTopIDs, p.Clone())
	c.ModifyRequest(rb, nil, top)

	assert.True(t, top.Purpose.Has(shard.PurposeGetFacets))
	assert.False(t, top.Params.Has(ParamMinCount))
	assert.False(t, top.Params.Has(ParamPivot))
	assert.False(t, top.Params.Has("f.color.facet.offset"))
	// (1 + 3) * 1.5 + 10
	assert.Equal(t, "16", top.Params.Get("f.color.facet.limit"))

	fields := shard.NewRequest(shard.PurposeGetFields, p.Clone())
	c.ModifyRequest(rb, nil, fields)
	assert.Equal(t, "false", fields.Params.Get(ParamFacet))
	assert.False(t, fields.Purpose.Has(shard.PurposeGetFacets))
}

func TestRefineCommand(t *testing.T) {
	dff := &DistributedFieldFacet{FieldFacet: FieldFacet{Raw: "color", Key: "color"}}
	assert.Equal(t, "{!terms=$color__terms}color", refineCommand(dff, "color__terms"))

	dff = &DistributedFieldFacet{FieldFacet: FieldFacet{Raw: "{!key=c}color", Key: "c"}}
	assert.Equal(t, "{!terms=$c__terms key=c}color", refineCommand(dff, "c__terms"))
}
