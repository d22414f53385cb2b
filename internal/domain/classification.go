package domain

import "strings"

// ErrorKind is the closed set of error categories the boundary recognizes.
type ErrorKind int

const (
	KindProgrammer ErrorKind = iota
	KindOperational
	KindValidation
	KindAuthToken
	KindConflict
	KindNotFound
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindOperational:
		return "operational"
	case KindValidation:
		return "validation"
	case KindAuthToken:
		return "auth_token"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "programmer"
	}
}

// DisclosureSafe reports whether messages of this kind may be shown to
// clients regardless of the error's own operational flag.
func (k ErrorKind) DisclosureSafe() bool {
	switch k {
	case KindValidation, KindAuthToken, KindConflict:
		return true
	default:
		return false
	}
}

// Classification is the outcome of classifying one failed request.
type Classification struct {
	Kind         ErrorKind
	StatusCode   int
	Message      any // string or []FieldError
	Stack        string
	IncludeStack bool
}

// Response renders the classification as the client-visible envelope.
func (c Classification) Response() ErrorResponse {
	resp := ErrorResponse{Status: StatusError, Message: c.Message}
	if c.IncludeStack {
		resp.Stack = c.Stack
	}
	return resp
}

// DisclosureMode controls whether internal detail reaches clients.
type DisclosureMode int

const (
	DisclosureDevelopment DisclosureMode = iota
	DisclosureProduction
)

// ParseDisclosureMode maps the environment toggle to a mode. Only
// "production" selects production; every other value is development.
func ParseDisclosureMode(env string) DisclosureMode {
	if strings.EqualFold(strings.TrimSpace(env), "production") {
		return DisclosureProduction
	}
	return DisclosureDevelopment
}

func (m DisclosureMode) String() string {
	if m == DisclosureProduction {
		return "production"
	}
	return "development"
}
