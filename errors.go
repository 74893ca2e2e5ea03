package rack

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is wrapped by KeyError when a key is absent from the store.
var ErrNotFound = errors.New("key not found")

// SchemaError reports an unknown type, a duplicate registration or a bad
// field spec.
type SchemaError struct {
	Type string
	Msg  string
}

func schemaErrf(typ string, format string, args ...any) error {
	return &SchemaError{typ, fmt.Sprintf(format, args...)}
}

func (e *SchemaError) Error() string {
	if e.Type == "" {
		return "schema: " + e.Msg
	}
	return "schema: " + e.Type + ": " + e.Msg
}

// FieldError reports a field type mismatch, a missing required field or a
// forbidden view-name collision.
type FieldError struct {
	Type  string
	Field string
	Msg   string
}

func fieldErrf(typ, field string, format string, args ...any) error {
	return &FieldError{typ, field, fmt.Sprintf(format, args...)}
}

func (e *FieldError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Type)
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	buf.WriteString(": ")
	buf.WriteString(e.Msg)
	return buf.String()
}

// KeyError reports a key absent on Get or Delete.
type KeyError struct {
	Key string
	Err error
}

func keyErr(key string) error {
	return &KeyError{key, ErrNotFound}
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func (e *KeyError) Error() string {
	return strconv.Quote(e.Key) + ": " + e.Err.Error()
}

// KeyMismatchError reports a Put whose explicit key disagrees with the
// canonical key of the value being stored.
type KeyMismatchError struct {
	Key  string
	Want string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("key %q does not match canonical key %q", e.Key, e.Want)
}

// QueryError reports a malformed query (with byte offset and the expected
// token set) or, with Eval set, an operator applied to incompatible operands
// while matching a record.
type QueryError struct {
	Query    string
	Off      int
	Msg      string
	Expected []string
	Eval     bool
}

func parseErrf(query string, off int, expected []string, format string, args ...any) error {
	return &QueryError{Query: query, Off: off, Msg: fmt.Sprintf(format, args...), Expected: expected}
}

func evalErrf(query string, off int, format string, args ...any) error {
	return &QueryError{Query: query, Off: off, Msg: fmt.Sprintf(format, args...), Eval: true}
}

func (e *QueryError) Error() string {
	var buf strings.Builder
	if e.Eval {
		buf.WriteString("query eval: ")
	} else {
		buf.WriteString("query parse: ")
	}
	buf.WriteString(e.Msg)
	fmt.Fprintf(&buf, " at offset %d", e.Off)
	if len(e.Expected) > 0 {
		buf.WriteString(" (expected ")
		buf.WriteString(strings.Join(e.Expected, ", "))
		buf.WriteByte(')')
	}
	if e.Query != "" {
		buf.WriteString(" in ")
		buf.WriteString(strconv.Quote(e.Query))
	}
	return buf.String()
}
