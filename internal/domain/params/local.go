package params

import (
	"strings"

	"github.com/kailas-cloud/distsearch/internal/domain"
)

// TypeKey holds the bare leading token of a local-params prefix, as in {!func}.
const TypeKey = "type"

// LocalParams is a parsed {!k=v ...} prefix.
type LocalParams map[string]string

// ParseLocalParams splits "{!key=k terms=$t}body" into its local params and
// body. A string without a prefix yields nil params. Values of the form $name
// are dereferenced against p when p is non-nil.
func ParseLocalParams(s string, p *Params) (LocalParams, string, error) {
	if !strings.HasPrefix(s, "{!") {
		return nil, s, nil
	}
	end := closingBrace(s)
	if end < 0 {
		return nil, "", domain.BadRequestf("unterminated local params: %q", s)
	}
	lp := LocalParams{}
	for i, tok := range splitTokens(s[2:end]) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			if i == 0 {
				lp[TypeKey] = tok
				continue
			}
			return nil, "", domain.BadRequestf("malformed local param %q in %q", tok, s)
		}
		v = unquote(v)
		if strings.HasPrefix(v, "$") && p != nil {
			v = p.Get(v[1:])
		}
		lp[k] = v
	}
	return lp, s[end+1:], nil
}

// Rest returns the local-params prefix of s without its leading "{!", so a
// caller can splice in extra params: "{!terms=$x " + Rest(s).
func Rest(s string) string {
	if !strings.HasPrefix(s, "{!") {
		return ""
	}
	return s[2:]
}

func closingBrace(s string) int {
	var quote byte
	for i := 2; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '}':
			return i
		}
	}
	return -1
}

func splitTokens(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(s) {
				cur.WriteByte(c)
				i++
				cur.WriteByte(s[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

func unquote(v string) string {
	if len(v) < 2 || (v[0] != '\'' && v[0] != '"') || v[len(v)-1] != v[0] {
		return v
	}
	var b strings.Builder
	for i := 1; i < len(v)-1; i++ {
		if v[i] == '\\' && i+1 < len(v)-1 {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// JoinEscaped joins values with sep, backslash-escaping sep and backslash.
func JoinEscaped(values []string, sep byte) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(sep)
		}
		for j := 0; j < len(v); j++ {
			if v[j] == sep || v[j] == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(v[j])
		}
	}
	return b.String()
}

// SplitEscaped reverses JoinEscaped.
func SplitEscaped(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case s[i] == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(out, cur.String())
}
