// Package envelope implements the collaborator boundary's wire format
// (spec.md §6.4/§4.10): a success shape every operation returns on the
// happy path, and a failure shape derived from the closed apperr taxonomy.
// It never imports net/http; the HTTP status mapping it exposes is a
// contract for whatever router a deployment wires in front of this module,
// matching spec.md §1's "interfaces the core consumes, contracts it must
// expose" framing for out-of-scope collaborators.
package envelope

import "baasd/internal/apperr"

// Success wraps any successful operation's result in the `{ok: true,
// data: ...}` shape.
type Success struct {
	Ok   bool `json:"ok"`
	Data any  `json:"data"`
}

// Failure wraps a tagged apperr.Error in the `{error, code, description,
// message}` shape. Error is the taxonomy member's display name
// ("ValidationError"); Code is its stable wire code ("VALIDATION_ERROR"),
// identical to apperr.Kind's string value; Description is the fixed,
// kind-level description; Message is the specific, call-site message.
type Failure struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Ok builds the success envelope for data.
func Ok(data any) Success {
	return Success{Ok: true, Data: data}
}

// FromError builds the failure envelope for err. A non-*apperr.Error is
// treated as an invariant violation and reported as KindInternal, since
// every domain package in this module is expected to return only tagged
// errors (spec.md §7: "the core returns tagged errors — it never panics on
// user input").
func FromError(err error) Failure {
	appErr, ok := err.(*apperr.Error)
	if !ok {
		appErr = apperr.Internal("unexpected untagged error: %v", err)
	}
	return Failure{
		Error:       errorName(appErr.Kind),
		Code:        string(appErr.Kind),
		Description: appErr.Description(),
		Message:     appErr.Message,
	}
}

func errorName(kind apperr.Kind) string {
	switch kind {
	case apperr.KindConfig:
		return "ConfigError"
	case apperr.KindValidation:
		return "ValidationError"
	case apperr.KindUnauthorized:
		return "UnauthorizedError"
	case apperr.KindNotFound:
		return "NotFoundError"
	case apperr.KindDatabase:
		return "DatabaseError"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps a Kind to the status code spec.md §4.10 assigns it. This
// module never issues an HTTP response itself; a collaborator router reads
// this mapping off the error the core returned.
func HTTPStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return 400
	case apperr.KindUnauthorized:
		return 401
	case apperr.KindNotFound:
		return 404
	default:
		return 500
	}
}
