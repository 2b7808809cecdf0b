// Package rename generates item names from patterns with substitutable
// fields, such as "image[001]" or "[layer path]_[current date]".
package rename

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldFunc computes the value of one field occurrence. field is the name
// as written in the pattern, args are the field's arguments. An error
// leaves the occurrence unsubstituted.
type FieldFunc[C any] func(c C, field string, args []string) (string, error)

// Field registers a substitution under a name. Name is matched in full
// against field names in the pattern and may be a regular expression, e.g.
// "^[0-9]+$" for numbering fields.
type Field[C any] struct {
	Name string
	Fn   FieldFunc[C]
	// MinArgs and MaxArgs bound the accepted argument count. Occurrences
	// outside the bounds are left unsubstituted. A negative MaxArgs
	// accepts any number of arguments.
	MinArgs int
	MaxArgs int
}

type partKind int

const (
	partLiteral partKind = iota
	partField
)

type part struct {
	kind partKind
	text string

	name string
	args []string
	raw  string
	// span of the field token within the pattern, inclusive
	start, end int
}

type compiledField[C any] struct {
	exact   string
	matcher *regexp.Regexp
	fn      FieldFunc[C]
	minArgs int
	maxArgs int
}

func (f *compiledField[C]) matches(name string) bool {
	if f.matcher != nil {
		return f.matcher.MatchString(name)
	}
	return f.exact == name
}

// Pattern is a parsed name pattern. Field tokens have the form
// "[name, arg1, arg2]". Doubled delimiters ("[[", "]]") produce literal
// brackets; arguments may be wrapped in brackets to preserve commas and
// spaces, with doubled delimiters again acting as escapes inside.
type Pattern[C any] struct {
	raw    string
	parts  []part
	fields []compiledField[C]
}

// New parses pattern. Tokens that are malformed or that match no field are
// reproduced verbatim on substitution. Fields are tried in order; the
// first whose name matches wins.
func New[C any](pattern string, fields []Field[C]) *Pattern[C] {
	p := &Pattern[C]{raw: pattern, parts: parseParts(pattern)}
	for _, f := range fields {
		compiled := compiledField[C]{
			exact:   f.Name,
			fn:      f.Fn,
			minArgs: f.MinArgs,
			maxArgs: f.MaxArgs,
		}
		if matcher, err := regexp.Compile("^(?:" + f.Name + ")$"); err == nil {
			compiled.matcher = matcher
		}
		p.fields = append(p.fields, compiled)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern[C]) String() string { return p.raw }

// Substitute renders the pattern, invoking each matching field once per
// occurrence, in order of appearance.
func (p *Pattern[C]) Substitute(c C) string {
	var b strings.Builder
	for i := range p.parts {
		pt := &p.parts[i]
		if pt.kind == partLiteral {
			b.WriteString(pt.text)
			continue
		}

		field := p.find(pt.name)
		if field == nil {
			b.WriteString(pt.raw)
			continue
		}
		if len(pt.args) < field.minArgs || (field.maxArgs >= 0 && len(pt.args) > field.maxArgs) {
			b.WriteString(pt.raw)
			continue
		}

		value, err := field.fn(c, pt.name, pt.args)
		if err != nil {
			b.WriteString(pt.raw)
			continue
		}
		b.WriteString(value)
	}
	return b.String()
}

func (p *Pattern[C]) find(name string) *compiledField[C] {
	for i := range p.fields {
		if p.fields[i].matches(name) {
			return &p.fields[i]
		}
	}
	return nil
}

// FieldAt returns the name of the field token containing the given
// character position, which may be anywhere after the token's opening
// bracket up to and including its closing bracket.
func FieldAt(pattern string, position int) (string, bool) {
	if position < 0 || position > len(pattern) {
		return "", false
	}
	for _, pt := range parseParts(pattern) {
		if pt.kind == partField && position > pt.start && position <= pt.end {
			return pt.name, true
		}
	}
	return "", false
}

// ParseField splits a field reference of the form "name, arg1, arg2" into
// the name and arguments, using the same argument syntax as fields inside
// a pattern.
func ParseField(s string) (string, []string, error) {
	fail := func() (string, []string, error) {
		return "", nil, fmt.Errorf("invalid field syntax: %q", s)
	}

	i := 0
	for i < len(s) && s[i] != ',' {
		if s[i] == '[' || s[i] == ']' {
			return fail()
		}
		i++
	}
	name := s[:i]
	if i >= len(s) {
		return name, nil, nil
	}
	i++

	var args []string
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			break
		}

		if s[i] == '[' {
			i++
			var b strings.Builder
			closed := false
			for !closed {
				if i >= len(s) {
					return fail()
				}
				switch {
				case s[i] == '[' && i+1 < len(s) && s[i+1] == '[':
					b.WriteByte('[')
					i += 2
				case s[i] == ']' && i+1 < len(s) && s[i+1] == ']':
					b.WriteByte(']')
					i += 2
				case s[i] == '[':
					return fail()
				case s[i] == ']':
					i++
					closed = true
				default:
					b.WriteByte(s[i])
					i++
				}
			}
			args = append(args, b.String())
			for i < len(s) && s[i] == ' ' {
				i++
			}
			if i >= len(s) {
				break
			}
			if s[i] != ',' {
				return fail()
			}
			i++
		} else {
			start := i
			for i < len(s) && s[i] != ',' {
				if s[i] == '[' || s[i] == ']' {
					return fail()
				}
				i++
			}
			args = append(args, strings.TrimRight(s[start:i], " "))
			if i < len(s) {
				i++
			}
		}
	}
	return name, args, nil
}

func parseParts(s string) []part {
	var parts []part
	var literal strings.Builder

	flush := func() {
		if literal.Len() > 0 {
			parts = append(parts, part{kind: partLiteral, text: literal.String()})
			literal.Reset()
		}
	}

	i := 0
	for i < len(s) {
		switch {
		case s[i] == '[' && i+1 < len(s) && s[i+1] == '[':
			literal.WriteByte('[')
			i += 2
		case s[i] == ']' && i+1 < len(s) && s[i+1] == ']':
			literal.WriteByte(']')
			i += 2
		case s[i] == '[':
			if pt, next, ok := parseFieldToken(s, i); ok {
				flush()
				parts = append(parts, pt)
				i = next
			} else {
				literal.WriteByte('[')
				i++
			}
		default:
			literal.WriteByte(s[i])
			i++
		}
	}
	flush()
	return parts
}

// parseFieldToken parses one "[name, args]" token starting at the opening
// bracket. It reports failure on unbalanced delimiters, leaving the caller
// to treat the text literally.
func parseFieldToken(s string, start int) (part, int, bool) {
	i := start + 1

	nameStart := i
	for {
		if i >= len(s) || s[i] == '[' {
			return part{}, 0, false
		}
		if s[i] == ']' || s[i] == ',' {
			break
		}
		i++
	}
	name := s[nameStart:i]

	newPart := func(args []string, end int) part {
		return part{
			kind:  partField,
			name:  name,
			args:  args,
			raw:   s[start : end+1],
			start: start,
			end:   end,
		}
	}

	if s[i] == ']' {
		return newPart(nil, i), i + 1, true
	}

	i++
	var args []string
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return part{}, 0, false
		}
		if s[i] == ']' {
			return newPart(args, i), i + 1, true
		}

		if s[i] == '[' {
			i++
			var b strings.Builder
			closed := false
			for !closed {
				if i >= len(s) {
					return part{}, 0, false
				}
				switch {
				case s[i] == '[' && i+1 < len(s) && s[i+1] == '[':
					b.WriteByte('[')
					i += 2
				case s[i] == ']' && i+1 < len(s) && s[i+1] == ']':
					b.WriteByte(']')
					i += 2
				case s[i] == '[':
					return part{}, 0, false
				case s[i] == ']':
					i++
					closed = true
				default:
					b.WriteByte(s[i])
					i++
				}
			}
			args = append(args, b.String())
			for i < len(s) && s[i] == ' ' {
				i++
			}
			if i >= len(s) {
				return part{}, 0, false
			}
			if s[i] == ']' {
				return newPart(args, i), i + 1, true
			}
			if s[i] != ',' {
				return part{}, 0, false
			}
			i++
		} else {
			argStart := i
			for {
				if i >= len(s) || s[i] == '[' {
					return part{}, 0, false
				}
				if s[i] == ',' || s[i] == ']' {
					break
				}
				i++
			}
			args = append(args, strings.TrimRight(s[argStart:i], " "))
			if s[i] == ']' {
				return newPart(args, i), i + 1, true
			}
			i++
		}
	}
}
