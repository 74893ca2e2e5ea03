package rack

import (
	"fmt"
	"strconv"
	"strings"
)

// keySep joins the type and id of a canonical key.
const keySep = "_"

// ID is either an explicit non-negative integer or the Unique sentinel
// requesting assignment at insert time.
type ID struct {
	n    int64
	auto bool
}

// Unique requests automatic id assignment (as an entry id) or automatic key
// derivation (as the target of Store.Put).
var Unique = ID{auto: true}

// NewID returns an explicit id. Negative ids are programmer errors.
func NewID(n int64) ID {
	if n < 0 {
		panic(fmt.Errorf("entry id must be non-negative, got %d", n))
	}
	return ID{n: n}
}

func (id ID) Auto() bool { return id.auto }
func (id ID) Int() int64 { return id.n }

func (id ID) String() string {
	if id.auto {
		return "UNIQUE"
	}
	return strconv.FormatInt(id.n, 10)
}

// CanonicalKey returns the "{type}_{id}" key addressing a stored entry.
func CanonicalKey(typeName string, id int64) string {
	return typeName + keySep + strconv.FormatInt(id, 10)
}

// TagKey returns the "tag_{name}" key addressing a named tag.
func TagKey(name string) string {
	return TagType + keySep + name
}

// parseNumericKey splits a canonical key into type and numeric id. The id is
// the all-digit suffix after the last separator.
func parseNumericKey(key string) (typeName string, id int64, ok bool) {
	i := strings.LastIndex(key, keySep)
	if i <= 0 || i == len(key)-1 {
		return "", 0, false
	}
	digits := key[i+1:]
	for j := 0; j < len(digits); j++ {
		if !isDigit(digits[j]) {
			return "", 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:i], n, true
}

// tagName extracts the user-chosen name from a "tag_{name}" key.
func tagName(key string) (string, bool) {
	return strings.CutPrefix(key, TagType+keySep)
}

// Fields is the literal map form used to construct entries.
type Fields = map[string]any

// FieldValue is one (name, value) pair of an entry's ordered field sequence.
type FieldValue struct {
	Name  string
	Value any
}

// Entry is a single record: an {id, type} envelope plus the declared field
// values. Foreign-key fields hold their stored raw form (keys or a query);
// the materialized views are available through View once the entry has been
// loaded from a store.
type Entry struct {
	typ    *Type
	id     ID
	name   string // tags are addressed by name instead of a numeric id
	fields map[string]any
	views  map[string]any
	store  *Store
}

// New constructs an entry of this type, validating field kinds and filling
// missing optional fields with their defaults.
func (typ *Type) New(id ID, fields Fields) (*Entry, error) {
	e := &Entry{typ: typ, id: id, fields: make(map[string]any, len(typ.fields))}
	for name, raw := range fields {
		if err := e.Set(name, raw); err != nil {
			return nil, err
		}
	}
	for _, f := range typ.fields {
		if _, ok := e.fields[f.Name]; ok {
			continue
		}
		if !f.Optional {
			return nil, fieldErrf(typ.name, f.Name, "missing required field")
		}
		e.fields[f.Name] = f.Default
	}
	return e, nil
}

// MustNew is New for statically-known field values.
func (typ *Type) MustNew(id ID, fields Fields) *Entry {
	return must(typ.New(id, fields))
}

// NewTag builds a tag entry carrying a literal data value.
func NewTag(scm *Schema, name string, data any) (*Entry, error) {
	e, err := scm.TypeNamed(TagType).New(Unique, Fields{"data": data})
	if err != nil {
		return nil, err
	}
	e.name = name
	return e, nil
}

// NewTagRef builds a tag entry whose data is resolved on every read from a
// foreign-key value: a query string, a canonical key, or a key list.
func NewTagRef(scm *Schema, name string, ref any) (*Entry, error) {
	e, err := scm.TypeNamed(TagType).New(Unique, Fields{fkPrefix + "data": ref})
	if err != nil {
		return nil, err
	}
	e.name = name
	return e, nil
}

func (e *Entry) Type() *Type      { return e.typ }
func (e *Entry) TypeName() string { return e.typ.name }
func (e *Entry) ID() ID           { return e.id }
func (e *Entry) SetID(id ID)      { e.id = id }
func (e *Entry) IsTag() bool      { return e.typ.IsTag() }

// Name returns the user-chosen tag name, "" for numeric-id entries.
func (e *Entry) Name() string { return e.name }

// SetName names a tag entry. Naming a non-tag entry is a programmer error.
func (e *Entry) SetName(name string) {
	if !e.IsTag() {
		panic(fmt.Errorf("%s: only tags are addressed by name", e.typ.name))
	}
	e.name = name
}

// Key returns the canonical key: "{type}_{id}", or "tag_{name}" for a tag.
// Tags are addressed by name only; an unassigned Unique id has no key yet.
func (e *Entry) Key() (string, error) {
	if e.IsTag() {
		if e.name == "" {
			return "", fieldErrf(e.typ.name, "", "tag has no name; set one before deriving its key")
		}
		return TagKey(e.name), nil
	}
	if e.id.auto {
		return "", fmt.Errorf("%s: id not assigned yet", e.typ.name)
	}
	return CanonicalKey(e.typ.name, e.id.n), nil
}

// Field returns the current value of a declared field, or nil.
func (e *Entry) Field(name string) any {
	return e.fields[name]
}

// Set validates and assigns a declared field.
func (e *Entry) Set(name string, raw any) error {
	f := e.typ.fieldsByName[name]
	if f == nil {
		return fieldErrf(e.typ.name, name, "field not declared")
	}
	v, err := normalizeValue(raw)
	if err != nil {
		return fieldErrf(e.typ.name, name, "%v", err)
	}
	if !kindAccepts(f.Kind, v) {
		return fieldErrf(e.typ.name, name, "%T is not a %v", raw, f.Kind)
	}
	if f.fk {
		if err := checkFKValue(v); err != nil {
			return fieldErrf(e.typ.name, name, "%v", err)
		}
	}
	e.fields[name] = v
	// The raw foreign-key value changed; drop the stale view.
	if f.fk && e.views != nil {
		delete(e.views, f.view)
	}
	return nil
}

// checkFKValue enforces the stored shape of a foreign-key field: a key or
// query string, or a sequence of key strings.
func checkFKValue(v any) error {
	switch x := v.(type) {
	case nil, string:
		return nil
	case []any:
		for _, el := range x {
			if _, ok := el.(string); !ok {
				return fmt.Errorf("foreign-key list element must be a key string, got %T", el)
			}
		}
		return nil
	default:
		return fmt.Errorf("foreign-key value must be a string or a list of strings, got %T", v)
	}
}

// FieldValues returns the ordered (name, value) sequence of declared fields.
// The envelope and projected views are not included.
func (e *Entry) FieldValues() []FieldValue {
	out := make([]FieldValue, len(e.typ.fields))
	for i, f := range e.typ.fields {
		out[i] = FieldValue{f.Name, e.fields[f.Name]}
	}
	return out
}

// lookup resolves a bare identifier during query evaluation: the envelope
// first, then declared fields.
func (e *Entry) lookup(name string) (any, bool) {
	switch name {
	case "id":
		if e.id.auto {
			return nil, true
		}
		return e.id.n, true
	case "type":
		return e.typ.name, true
	}
	if e.typ.fieldsByName[name] == nil {
		return nil, false
	}
	return e.fields[name], true
}

// Equal compares type, id and declared fields, ignoring projected views.
func (e *Entry) Equal(o *Entry) bool {
	if e.typ.name != o.typ.name || e.id != o.id || e.name != o.name {
		return false
	}
	for _, f := range e.typ.fields {
		if !looseEqual(e.fields[f.Name], o.fields[f.Name]) {
			return false
		}
	}
	return true
}
