package typecheck

import (
	"github.com/artpar/rpcspec/domain/form"
)

// Decl identifies a declaration kind.
type Decl int

const (
	DeclUnknown Decl = iota
	DeclMessage
	DeclRPC
	DeclPackage
)

// Name returns the head symbol that introduces the declaration kind.
func (d Decl) Name() string {
	switch d {
	case DeclMessage:
		return "def-msg"
	case DeclRPC:
		return "def-rpc"
	case DeclPackage:
		return "def-rpc-package"
	default:
		return "unknown"
	}
}

func (d Decl) String() string { return d.Name() }

// Checker validates the name and arguments of one declaration kind.
type Checker interface {
	Check(name form.Form, args []form.Form) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(name form.Form, args []form.Form) (bool, error)

// Check calls f.
func (f CheckerFunc) Check(name form.Form, args []form.Form) (bool, error) {
	return f(name, args)
}

type entry struct {
	decl    Decl
	checker Checker
}

// Registry maps declaration heads to checkers. It is fixed at construction
// and safe for concurrent use.
type Registry struct {
	entries []entry
}

// NewRegistry builds the registry of message, RPC and package declarations.
func NewRegistry() *Registry {
	return &Registry{
		entries: []entry{
			{DeclMessage, CheckerFunc(CheckMsg)},
			{DeclRPC, CheckerFunc(CheckRPC)},
			{DeclPackage, CheckerFunc(CheckPackage)},
		},
	}
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Check validates decl with the Default registry.
func Check(decl form.List) (bool, error) {
	return Default.Check(decl)
}

// Names lists the supported declaration heads in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.decl.Name()
	}
	return names
}

// Kind returns the declaration kind decl's head selects.
func (r *Registry) Kind(decl form.List) Decl {
	if e, ok := r.lookup(decl); ok {
		return e.decl
	}
	return DeclUnknown
}

func (r *Registry) lookup(decl form.List) (entry, bool) {
	head, ok := form.Head(decl)
	if !ok {
		return entry{}, false
	}
	for _, e := range r.entries {
		if head.Is(e.decl.Name()) {
			return e, true
		}
	}
	return entry{}, false
}

// Check routes decl to the checker for its head and returns its verdict.
// Declarations shorter than two elements and unknown heads are errors.
func (r *Registry) Check(decl form.List) (bool, error) {
	if len(decl) < 2 {
		return false, &MalformedError{Decl: decl, Reason: "expected a kind and a name"}
	}

	e, ok := r.lookup(decl)
	if !ok {
		return false, &UnknownDeclarationError{Head: decl[0], Supported: r.Names()}
	}
	return e.checker.Check(decl[1], decl[2:])
}
