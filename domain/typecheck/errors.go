package typecheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/rpcspec/domain/form"
)

// Sentinel errors for errors.Is matching.
var (
	ErrMalformed          = errors.New("malformed declaration")
	ErrUnknownDeclaration = errors.New("unknown declaration")
	ErrUnsupportedForm    = errors.New("unsupported form")
)

// MalformedError reports a declaration whose arity is wrong.
type MalformedError struct {
	Decl   form.List
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed declaration %s: %s", e.Decl, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// UnknownDeclarationError reports a head that matches no registered kind.
type UnknownDeclarationError struct {
	Head      form.Form
	Supported []string
}

func (e *UnknownDeclarationError) Error() string {
	return fmt.Sprintf("unknown declaration %s, supported: %s",
		form.Render(e.Head), strings.Join(e.Supported, ", "))
}

func (e *UnknownDeclarationError) Unwrap() error { return ErrUnknownDeclaration }

// UnsupportedFormError reports a form that is not a type expression at all.
type UnsupportedFormError struct {
	Form form.Form
}

func (e *UnsupportedFormError) Error() string {
	return fmt.Sprintf("cannot classify %s %s as a type expression",
		form.TypeName(e.Form), form.Render(e.Form))
}

func (e *UnsupportedFormError) Unwrap() error { return ErrUnsupportedForm }
