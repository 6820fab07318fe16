package typecheck

import "github.com/artpar/rpcspec/domain/form"

// Kind is the classified shape of a type expression.
type Kind int

const (
	Invalid Kind = iota
	Scalar
	Map
	List
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Map:
		return "map"
	case List:
		return "list"
	default:
		return "invalid"
	}
}

// OK reports whether k is any successful classification.
func (k Kind) OK() bool { return k != Invalid }

// listHead is the symbol that introduces a homogeneous list type.
const listHead = "list"

// Classify sorts f into a Kind. Keywords, nil symbols and malformed lists are
// Invalid. Atoms that can never be a type expression return an
// *UnsupportedFormError.
func Classify(f form.Form) (Kind, error) {
	switch v := f.(type) {
	case nil:
		return Invalid, nil
	case form.Keyword:
		return Invalid, nil
	case form.Symbol:
		if v.IsNil() {
			return Invalid, nil
		}
		return Scalar, nil
	case form.Quote:
		return Classify(v.Form)
	case form.List:
		ok, err := IsMap(v)
		if err != nil {
			return Invalid, err
		}
		if ok {
			return Map, nil
		}
		ok, err = IsList(v)
		if err != nil {
			return Invalid, err
		}
		if ok {
			return List, nil
		}
		return Invalid, nil
	default:
		return Invalid, &UnsupportedFormError{Form: f}
	}
}

// IsMap reports whether l is a non-empty sequence of keyword/type pairs.
// Duplicate keys are accepted.
func IsMap(l form.List) (bool, error) {
	if len(l) == 0 || len(l)%2 != 0 {
		return false, nil
	}
	for i := 0; i < len(l); i += 2 {
		if _, ok := l[i].(form.Keyword); !ok {
			return false, nil
		}
		k, err := Classify(l[i+1])
		if err != nil {
			return false, err
		}
		if !k.OK() {
			return false, nil
		}
	}
	return true, nil
}

// IsList reports whether l is exactly (list T) with T a valid type expression.
func IsList(l form.List) (bool, error) {
	if len(l) != 2 {
		return false, nil
	}
	head, ok := l[0].(form.Symbol)
	if !ok || !head.Is(listHead) {
		return false, nil
	}
	k, err := Classify(l[1])
	if err != nil {
		return false, err
	}
	return k.OK(), nil
}
