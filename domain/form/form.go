// Package form defines parsed literal data: the atoms and ordered sequences a
// declaration is made of once a generic reader has turned source into values.
//
// Forms are plain values. Nothing here knows about declarations or types; the
// typecheck package imposes that meaning.
package form

import (
	"strconv"
	"strings"
)

// Form is one parsed element.
type Form interface {
	// String renders the form in Lisp notation.
	String() string
	isForm()
}

// Symbol is a plain name token: a scalar type name, a message reference, or
// the head of a declaration.
type Symbol string

// Keyword is a structural field name, written with a leading colon.
// The colon is not part of the stored value.
type Keyword string

// Quote marks its payload as literal data rather than a nested command.
type Quote struct {
	Form Form
}

// List is an ordered sequence of forms.
type List []Form

// Int is an integer literal.
type Int int64

// Float is a floating point literal.
type Float float64

// String is a textual literal.
type String string

// Bool is a boolean literal.
type Bool bool

func (Symbol) isForm()  {}
func (Keyword) isForm() {}
func (Quote) isForm()   {}
func (List) isForm()    {}
func (Int) isForm()     {}
func (Float) isForm()   {}
func (String) isForm()  {}
func (Bool) isForm()    {}

// IsNil reports whether s is the nil identifier: empty, or the name nil.
func (s Symbol) IsNil() bool {
	return s == "" || strings.EqualFold(string(s), "nil")
}

// Is reports whether s names the given identifier, ignoring case.
func (s Symbol) Is(name string) bool {
	return strings.EqualFold(string(s), name)
}

func (s Symbol) String() string {
	if s == "" {
		return "nil"
	}
	return string(s)
}

func (k Keyword) String() string { return ":" + string(k) }

func (q Quote) String() string { return "'" + Render(q.Form) }

func (l List) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, f := range l {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Render(f))
	}
	b.WriteByte(')')
	return b.String()
}

func (n Int) String() string { return strconv.FormatInt(int64(n), 10) }

func (n Float) String() string { return strconv.FormatFloat(float64(n), 'g', -1, 64) }

func (s String) String() string { return strconv.Quote(string(s)) }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

// Render prints f, treating a missing form as nil.
func Render(f Form) string {
	if f == nil {
		return "nil"
	}
	return f.String()
}

// TypeName names the kind of f for diagnostics.
func TypeName(f Form) string {
	switch f.(type) {
	case nil:
		return "nil"
	case Symbol:
		return "symbol"
	case Keyword:
		return "keyword"
	case Quote:
		return "quote"
	case List:
		return "list"
	case Int:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Bool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Unquote strips every literal wrapper around f.
func Unquote(f Form) Form {
	for {
		q, ok := f.(Quote)
		if !ok {
			return f
		}
		f = q.Form
	}
}

// Head returns the leading symbol of a list, if it has one.
func Head(l List) (Symbol, bool) {
	if len(l) == 0 {
		return "", false
	}
	s, ok := l[0].(Symbol)
	return s, ok
}
