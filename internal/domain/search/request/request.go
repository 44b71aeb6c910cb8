package request

import (
	"strings"
	"time"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
	"github.com/kailas-cloud/distsearch/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultRows    = 10
	MaxRows        = 10000
	// ScoreField names the relevance pseudo-field in sort and fl.
	ScoreField = "score"
)

// SortField is one clause of a sort spec.
type SortField struct {
	Field string
	Desc  bool
}

// IsScore reports whether the clause sorts by relevance.
func (s SortField) IsScore() bool { return s.Field == ScoreField }

// FieldList is a parsed fl parameter.
type FieldList struct {
	names map[string]bool
	order []string
	all   bool
	score bool
}

// ParseFieldList reads "id,name,score" style lists. Empty means all fields.
func ParseFieldList(s string) FieldList {
	fl := FieldList{names: map[string]bool{}}
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		switch f {
		case "*":
			fl.all = true
		case ScoreField:
			fl.score = true
		default:
			if !fl.names[f] {
				fl.names[f] = true
				fl.order = append(fl.order, f)
			}
		}
	}
	if len(fl.order) == 0 {
		fl.all = true
	}
	return fl
}

// WantsScore reports whether the caller asked for scores.
func (fl FieldList) WantsScore() bool { return fl.score }

// WantsField reports whether a stored field should be returned.
func (fl FieldList) WantsField(name string) bool { return fl.all || fl.names[name] }

// WantsAll reports whether every stored field should be returned.
func (fl FieldList) WantsAll() bool { return fl.all }

// Names returns explicitly listed stored fields in request order.
func (fl FieldList) Names() []string { return fl.order }

// Grouping is a parsed field-collapsing spec.
type Grouping struct {
	Field   string
	Limit   int
	Offset  int
	NGroups bool
}

// Request is a validated search query.
type Request struct {
	query       string
	filters     filter.Expression
	sort        []SortField
	start       int
	rows        int
	fields      FieldList
	shardsStart int
	shardsRows  int
	timeAllowed time.Duration
	ids         []string
	grouping    *Grouping
}

// Parse validates and normalizes the common search parameters.
// Defaults: q=*:*, sort=score desc, start=0, rows=defaultRows.
func Parse(p *params.Params, defaultRows int) (Request, error) {
	q := p.Get(params.Q)
	if q == "" {
		q = filter.MatchAll
	}
	if len(q) > MaxQueryLength {
		return Request{}, domain.BadRequestf("query too long (max %d chars)", MaxQueryLength)
	}
	if defaultRows <= 0 {
		defaultRows = DefaultRows
	}
	start, err := p.GetInt(params.Start, 0)
	if err != nil {
		return Request{}, err
	}
	if start < 0 {
		return Request{}, domain.BadRequestf("'start' parameter cannot be negative")
	}
	rows, err := p.GetInt(params.Rows, defaultRows)
	if err != nil {
		return Request{}, err
	}
	if rows < 0 {
		return Request{}, domain.BadRequestf("'rows' parameter cannot be negative")
	}
	if rows > MaxRows {
		rows = MaxRows
	}

	var filters filter.Expression
	for _, fq := range p.GetAll(params.FQ) {
		e, err := filter.Parse(fq)
		if err != nil {
			return Request{}, domain.BadRequestf("fq: %v", err)
		}
		if filters, err = filters.And(e); err != nil {
			return Request{}, domain.BadRequestf("fq: %v", err)
		}
	}

	sortSpec, err := ParseSort(p.Get(params.Sort))
	if err != nil {
		return Request{}, err
	}
	shardsStart, err := p.GetInt(params.ShardsStart, -1)
	if err != nil {
		return Request{}, err
	}
	shardsRows, err := p.GetInt(params.ShardsRows, -1)
	if err != nil {
		return Request{}, err
	}
	ms, err := p.GetInt(params.TimeAllowed, 0)
	if err != nil {
		return Request{}, err
	}
	grouping, err := parseGrouping(p)
	if err != nil {
		return Request{}, err
	}

	var ids []string
	if s := p.Get(params.IDs); s != "" {
		ids = params.SplitEscaped(s, ',')
	}

	return Request{
		query:       q,
		filters:     filters,
		sort:        sortSpec,
		start:       start,
		rows:        rows,
		fields:      ParseFieldList(p.Get(params.FL)),
		shardsStart: shardsStart,
		shardsRows:  shardsRows,
		timeAllowed: time.Duration(ms) * time.Millisecond,
		ids:         ids,
		grouping:    grouping,
	}, nil
}

// ParseSort reads "score desc, price asc". Empty means score descending.
func ParseSort(s string) ([]SortField, error) {
	if strings.TrimSpace(s) == "" {
		return []SortField{{Field: ScoreField, Desc: true}}, nil
	}
	var out []SortField
	for _, clause := range strings.Split(s, ",") {
		parts := strings.Fields(clause)
		if len(parts) != 2 {
			return nil, domain.BadRequestf("can't parse sort clause %q", strings.TrimSpace(clause))
		}
		switch strings.ToLower(parts[1]) {
		case "asc":
			out = append(out, SortField{Field: parts[0]})
		case "desc":
			out = append(out, SortField{Field: parts[0], Desc: true})
		default:
			return nil, domain.BadRequestf("unknown sort order %q", parts[1])
		}
	}
	return out, nil
}

func parseGrouping(p *params.Params) (*Grouping, error) {
	on, err := p.GetBool("group", false)
	if err != nil || !on {
		return nil, err
	}
	field := p.Get("group.field")
	if field == "" {
		return nil, domain.BadRequestf("group.field is required when group=true")
	}
	limit, err := p.GetInt("group.limit", 1)
	if err != nil {
		return nil, err
	}
	offset, err := p.GetInt("group.offset", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, domain.BadRequestf("group.limit and group.offset cannot be negative")
	}
	ngroups, err := p.GetBool("group.ngroups", false)
	if err != nil {
		return nil, err
	}
	return &Grouping{Field: field, Limit: limit, Offset: offset, NGroups: ngroups}, nil
}

// Query returns the main query string.
func (r *Request) Query() string { return r.query }

// Filters returns the combined fq expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Sort returns the sort spec.
func (r *Request) Sort() []SortField { return r.sort }

// SortsByScore reports whether any sort clause uses relevance.
func (r *Request) SortsByScore() bool {
	for _, s := range r.sort {
		if s.IsScore() {
			return true
		}
	}
	return false
}

// Start returns the result offset.
func (r *Request) Start() int { return r.start }

// Rows returns the page size.
func (r *Request) Rows() int { return r.rows }

// Fields returns the parsed fl.
func (r *Request) Fields() FieldList { return r.fields }

// ShardsStart returns shards.start, or -1 when unset.
func (r *Request) ShardsStart() int { return r.shardsStart }

// ShardsRows returns shards.rows, or -1 when unset.
func (r *Request) ShardsRows() int { return r.shardsRows }

// TimeAllowed returns the local search time budget (0 = unlimited).
func (r *Request) TimeAllowed() time.Duration { return r.timeAllowed }

// IDs returns the explicit document keys of a fetch request.
func (r *Request) IDs() []string { return r.ids }

// Grouping returns the field-collapsing spec, or nil.
func (r *Request) Grouping() *Grouping { return r.grouping }

// WithWindow returns a copy with a different start/rows window.
func (r Request) WithWindow(start, rows int) Request {
	r.start, r.rows = start, rows
	return r
}
