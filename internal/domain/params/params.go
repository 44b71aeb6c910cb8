package params

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/distsearch/internal/domain"
)

// Common request parameter names.
const (
	Q           = "q"
	FQ          = "fq"
	Start       = "start"
	Rows        = "rows"
	Sort        = "sort"
	FL          = "fl"
	IDs         = "ids"
	FSV         = "fsv"
	TimeAllowed = "timeAllowed"

	Shards         = "shards"
	ShardsStart    = "shards.start"
	ShardsRows     = "shards.rows"
	ShardsInfo     = "shards.info"
	ShardsTolerant = "shards.tolerant"
	ShardURL       = "shard.url"
	IsShard        = "isShard"
	Distrib        = "distrib"
)

// Params is a multi-valued request parameter set.
type Params struct {
	v url.Values
}

// New creates an empty parameter set.
func New() *Params { return &Params{v: url.Values{}} }

// FromValues wraps a copy of url.Values.
func FromValues(v url.Values) *Params {
	p := New()
	for k, vals := range v {
		p.v[k] = append([]string(nil), vals...)
	}
	return p
}

// Of builds a parameter set from alternating name/value arguments.
func Of(pairs ...string) *Params {
	p := New()
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Add(pairs[i], pairs[i+1])
	}
	return p
}

// Clone returns an independent copy.
func (p *Params) Clone() *Params { return FromValues(p.v) }

// Get returns the first value of name, or "".
func (p *Params) Get(name string) string { return p.v.Get(name) }

// GetAll returns every value of name.
func (p *Params) GetAll(name string) []string { return p.v[name] }

// Has reports whether name carries at least one value.
func (p *Params) Has(name string) bool { return len(p.v[name]) > 0 }

// Set replaces all values of name.
func (p *Params) Set(name, value string) { p.v.Set(name, value) }

// SetInt replaces all values of name with an integer.
func (p *Params) SetInt(name string, value int) { p.v.Set(name, strconv.Itoa(value)) }

// Add appends a value to name.
func (p *Params) Add(name, value string) { p.v.Add(name, value) }

// Remove deletes name.
func (p *Params) Remove(name string) { p.v.Del(name) }

// Names returns parameter names in sorted order.
func (p *Params) Names() []string {
	names := make([]string, 0, len(p.v))
	for k := range p.v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values exposes a copy as url.Values.
func (p *Params) Values() url.Values { return p.Clone().v }

// Encode renders the set in URL form with sorted keys.
func (p *Params) Encode() string { return p.v.Encode() }

// GetInt parses name as an integer, returning def when absent.
func (p *Params) GetInt(name string, def int) (int, error) {
	s := p.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, domain.BadRequestf("invalid integer for %s: %q", name, s)
	}
	return n, nil
}

// GetBool parses name as a boolean, returning def when absent.
func (p *Params) GetBool(name string, def bool) (bool, error) {
	s := p.Get(name)
	if s == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes":
		return true, nil
	case "false", "off", "no":
		return false, nil
	}
	return false, domain.BadRequestf("invalid boolean for %s: %q", name, s)
}

// Bool is GetBool that treats an unparsable value as def.
func (p *Params) Bool(name string, def bool) bool {
	b, err := p.GetBool(name, def)
	if err != nil {
		return def
	}
	return b
}

// FieldName returns the per-field override name f.<field>.<name>.
func FieldName(field, name string) string { return "f." + field + "." + name }

// FieldParam returns f.<field>.<name>, falling back to name, then def.
func (p *Params) FieldParam(field, name, def string) string {
	if s := p.Get(FieldName(field, name)); s != "" {
		return s
	}
	if s := p.Get(name); s != "" {
		return s
	}
	return def
}

// FieldInt is FieldParam parsed as an integer.
func (p *Params) FieldInt(field, name string, def int) (int, error) {
	key := FieldName(field, name)
	if !p.Has(key) {
		key = name
	}
	return p.GetInt(key, def)
}

// FieldBool is FieldParam parsed as a boolean.
func (p *Params) FieldBool(field, name string, def bool) (bool, error) {
	key := FieldName(field, name)
	if !p.Has(key) {
		key = name
	}
	return p.GetBool(key, def)
}
