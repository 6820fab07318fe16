package typecheck

import (
	"fmt"

	"github.com/artpar/rpcspec/domain/form"
)

// CheckMsg validates a def-msg body. An empty body is a message with no
// fields yet; otherwise the body itself must be a map pair sequence.
func CheckMsg(name form.Form, args []form.Form) (bool, error) {
	if len(args) == 0 {
		return true, nil
	}
	return IsMap(form.List(args))
}

// CheckRPC validates (request response?). The request must be a scalar or a
// map, never a bare list. The response may be any valid type expression.
// The response is not looked at when the request fails.
//
// More than two arguments is a hard error: CheckRPC returns a *MalformedError
// (matching ErrMalformed) rather than a rejection.
func CheckRPC(name form.Form, args []form.Form) (bool, error) {
	if len(args) == 0 {
		return true, nil
	}
	if len(args) > 2 {
		return false, &MalformedError{
			Decl:   append(form.List{name}, args...),
			Reason: fmt.Sprintf("rpc takes a request and an optional response, got %d arguments", len(args)),
		}
	}

	req, err := Classify(args[0])
	if err != nil {
		return false, err
	}
	if req != Scalar && req != Map {
		return false, nil
	}

	if len(args) == 1 {
		return true, nil
	}
	resp, err := Classify(args[1])
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// CheckPackage accepts every def-rpc-package declaration. Package membership
// is not validated.
func CheckPackage(name form.Form, args []form.Form) (bool, error) {
	return true, nil
}
