package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can react to it without parsing messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnection
	KindAuth
	KindNotFound
	KindRateLimit
	KindAPI
	KindMalformedResponse
	KindMalformedRecord
	KindMissingInput
	KindMalformedInput
	KindSchema
	KindEmptyResult
	KindDateParse
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindTimeout:           "timeout",
	KindConnection:        "connection",
	KindAuth:              "auth",
	KindNotFound:          "not_found",
	KindRateLimit:         "rate_limit",
	KindAPI:               "api",
	KindMalformedResponse: "malformed_response",
	KindMalformedRecord:   "malformed_record",
	KindMissingInput:      "missing_input",
	KindMalformedInput:    "malformed_input",
	KindSchema:            "schema",
	KindEmptyResult:       "empty_result",
	KindDateParse:         "date_parse",
	KindStorage:           "storage",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Hint is the action a person should take when a run fails with this kind.
func (k Kind) Hint() string {
	switch k {
	case KindTimeout, KindConnection:
		return "check the network connection"
	case KindAuth:
		return "check the API key"
	case KindNotFound:
		return "check the city name"
	case KindRateLimit:
		return "too many requests, try again later"
	case KindAPI, KindMalformedResponse:
		return "the weather service is misbehaving, try again later"
	case KindMissingInput:
		return "fetch the forecast before cleaning it"
	case KindMalformedInput, KindSchema, KindDateParse:
		return "the stored forecast is corrupt, fetch it again"
	case KindEmptyResult:
		return "the forecast contained no usable records"
	case KindStorage:
		return "check disk space and permissions of the data directory"
	default:
		return "unexpected failure, see logs"
	}
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnection, KindRateLimit:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is matching against any *Error of the same kind.
var (
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrConnection        = &Error{Kind: KindConnection}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrRateLimit         = &Error{Kind: KindRateLimit}
	ErrAPI               = &Error{Kind: KindAPI}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrMalformedRecord   = &Error{Kind: KindMalformedRecord}
	ErrMissingInput      = &Error{Kind: KindMissingInput}
	ErrMalformedInput    = &Error{Kind: KindMalformedInput}
	ErrSchema            = &Error{Kind: KindSchema}
	ErrEmptyResult       = &Error{Kind: KindEmptyResult}
	ErrDateParse         = &Error{Kind: KindDateParse}
	ErrStorage           = &Error{Kind: KindStorage}
)

// Error is a typed failure carrying enough context to diagnose it without logs.
// Zero-valued context fields are omitted from the message.
type Error struct {
	Kind   Kind
	Op     string   // stage or operation that failed, e.g. "schema" or "fetch"
	City   string   // city identity, when known
	Field  string   // offending field
	Fields []string // offending fields, for schema failures
	Path   string   // file involved
	Status int      // upstream HTTP status
	Index  int      // entry or row index for record and date failures; -1 when not applicable
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields %s)", strings.Join(e.Fields, ", "))
	}
	if e.Index >= 0 && (e.Kind == KindMalformedRecord || e.Kind == KindDateParse) {
		fmt.Fprintf(&b, " (index %d)", e.Index)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, ErrSchema) works for
// any schema failure regardless of its context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the failure kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Index: -1, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Index: -1, Err: err}
}
