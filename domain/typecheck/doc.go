/*
Package typecheck validates message and RPC declarations before any code
generator or runtime trusts them.

# Declarations

A declaration is a parsed list headed by its kind:

	(def-msg user :first string :second string)
	(def-rpc get-book '(:title string :lang (list string)) book-info)
	(def-rpc-package library)

The head is matched case-insensitively, so DEF-MSG and def-msg are the same
declaration kind. Every declaration needs at least a head and a name.

# Type Expressions

Classify sorts one value position into a Kind:

  - Scalar: a non-nil symbol, either a primitive type name or another message.
  - Map:    a non-empty, even-length list of keyword/type-expression pairs.
  - List:   a two-element list (list T) where T is itself a type expression.
  - Invalid: anything with the right fundamental kind but the wrong shape.

A quoted form is unwrapped one layer and classified again; quoting carries no
meaning of its own.

# Failure Channels

Checks report malformed shapes as a false result with a nil error. Forms of a
fundamentally wrong kind (numbers, strings, booleans where a type expression
was expected) are reported as an *UnsupportedFormError instead, and abort the
whole declaration:

	ok, err := typecheck.Check(decl)
	switch {
	case err != nil:
		// hard error: unknown kind, too short, or unsupported form
	case !ok:
		// rejected: shape is present but malformed
	}

Maps do not check that their keys are distinct, and def-rpc-package accepts
any arguments.
*/
package typecheck
