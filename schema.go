package rack

import (
	"fmt"
	"strings"
)

// fkPrefix marks foreign-key fields; the remainder of the name is the
// projected view name.
const fkPrefix = "fk_"

// TagType is the built-in type every schema registers.
const TagType = "tag"

// FieldKind is the declared semantic type of an entry field.
type FieldKind int

const (
	FieldAny FieldKind = iota // any JSON value, including null
	FieldString
	FieldInt
	FieldFloat
	FieldBool
	FieldList
	FieldMap
)

func (k FieldKind) String() string {
	switch k {
	case FieldAny:
		return "any"
	case FieldString:
		return "string"
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldList:
		return "list"
	case FieldMap:
		return "map"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// FieldDef describes one field when registering a type.
type FieldDef struct {
	Name     string
	Kind     FieldKind
	Default  any
	Optional bool
}

// Req declares a required field.
func Req(name string, kind FieldKind) FieldDef {
	return FieldDef{Name: name, Kind: kind}
}

// Opt declares an optional field filled with def when absent.
func Opt(name string, kind FieldKind, def any) FieldDef {
	return FieldDef{Name: name, Kind: kind, Default: def, Optional: true}
}

// Field is the registered descriptor of one entry field.
type Field struct {
	Name     string
	Kind     FieldKind
	Default  any
	Optional bool

	fk   bool
	view string // projected view name for fk fields
}

// FK reports whether this is a foreign-key field.
func (f *Field) FK() bool { return f.fk }

// View returns the projected view name of a foreign-key field, "" otherwise.
func (f *Field) View() string { return f.view }

// Schema is the per-store registry of entry types. Registration order is
// stable and defines the ordering used by Store.Sort.
type Schema struct {
	types       []*Type
	typesByName map[string]*Type
}

// NewSchema returns a schema with the built-in tag type already registered.
func NewSchema() *Schema {
	scm := &Schema{typesByName: make(map[string]*Type)}
	ensure(scm.addType(TagType,
		Opt("data", FieldAny, nil),
		Opt(fkPrefix+"data", FieldAny, nil),
	))
	return scm
}

// Types returns the registered types in registration order, tag last.
func (scm *Schema) Types() []*Type {
	out := make([]*Type, 0, len(scm.types))
	for _, typ := range scm.types[1:] {
		out = append(out, typ)
	}
	return append(out, scm.types[0])
}

// TypeNamed returns the registered type, or nil. Type names are
// case-sensitive.
func (scm *Schema) TypeNamed(name string) *Type {
	return scm.typesByName[name]
}

// AddType registers an entry type. Definition mistakes (duplicate type,
// duplicate or reserved field names, view-name collisions) are programmer
// errors and panic.
func AddType(scm *Schema, name string, fields ...FieldDef) *Type {
	typ, err := scm.Register(name, fields...)
	if err != nil {
		panic(err)
	}
	return typ
}

// Register is the error-returning form of AddType.
func (scm *Schema) Register(name string, fields ...FieldDef) (*Type, error) {
	if err := scm.addType(name, fields...); err != nil {
		return nil, err
	}
	return scm.typesByName[name], nil
}

func (scm *Schema) addType(name string, fields ...FieldDef) error {
	if name == "" {
		return schemaErrf(name, "empty type name")
	}
	if strings.ContainsAny(name, ": \t\n") {
		return schemaErrf(name, "type name must not contain ':' or whitespace")
	}
	if scm.typesByName[name] != nil {
		return schemaErrf(name, "duplicate type registration")
	}

	typ := &Type{
		schema:       scm,
		name:         name,
		pos:          len(scm.types),
		fieldsByName: make(map[string]*Field),
	}
	for _, def := range fields {
		if err := typ.addField(def); err != nil {
			return err
		}
	}
	// A view name must not collide with any declared sibling field. The
	// built-in tag is the one exception: its fk_data projects onto the
	// declared data companion it overwrites on read.
	if name != TagType {
		for _, f := range typ.fields {
			if f.fk && typ.fieldsByName[f.view] != nil {
				return fieldErrf(name, f.Name, "projected view %q collides with a declared field", f.view)
			}
		}
	}

	scm.types = append(scm.types, typ)
	scm.typesByName[name] = typ
	return nil
}

// Type is the registered schema of one entry type: an ordered field
// descriptor table plus the foreign-key projections derived from it.
type Type struct {
	schema       *Schema
	name         string
	pos          int
	fields       []*Field
	fieldsByName map[string]*Field
}

func (typ *Type) Name() string { return typ.name }

// Fields returns the field descriptors in declaration order.
func (typ *Type) Fields() []*Field {
	return append([]*Field(nil), typ.fields...)
}

// FieldNamed returns the descriptor for a declared field, or nil.
func (typ *Type) FieldNamed(name string) *Field {
	return typ.fieldsByName[name]
}

// IsTag reports whether this is the built-in tag type.
func (typ *Type) IsTag() bool { return typ.name == TagType }

func (typ *Type) addField(def FieldDef) error {
	name := def.Name
	switch {
	case name == "":
		return fieldErrf(typ.name, name, "empty field name")
	case name == "id" || name == "type":
		return fieldErrf(typ.name, name, "reserved envelope field")
	case typ.fieldsByName[name] != nil:
		return fieldErrf(typ.name, name, "duplicate field")
	}

	f := &Field{Name: name, Kind: def.Kind, Optional: def.Optional}
	if def.Optional {
		norm, err := normalizeValue(def.Default)
		if err != nil {
			return fieldErrf(typ.name, name, "bad default: %v", err)
		}
		if norm != nil && !kindAccepts(def.Kind, norm) {
			return fieldErrf(typ.name, name, "default %v is not a %v", def.Default, def.Kind)
		}
		f.Default = norm
	}
	if view, ok := strings.CutPrefix(name, fkPrefix); ok {
		if view == "" {
			return fieldErrf(typ.name, name, "foreign-key field has no view name")
		}
		switch def.Kind {
		case FieldAny, FieldString, FieldList:
		default:
			return fieldErrf(typ.name, name, "foreign-key field must be string, list or any, got %v", def.Kind)
		}
		f.fk = true
		f.view = view
	}

	typ.fields = append(typ.fields, f)
	typ.fieldsByName[name] = f
	return nil
}

// kindAccepts checks a normalized value against a declared kind. Integral
// values satisfy float fields; null satisfies any kind (optional fields).
func kindAccepts(kind FieldKind, v any) bool {
	if v == nil {
		return true
	}
	switch kind {
	case FieldAny:
		return true
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldInt:
		_, ok := v.(int64)
		return ok
	case FieldFloat:
		switch v.(type) {
		case int64, float64:
			return true
		}
		return false
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldList:
		_, ok := v.([]any)
		return ok
	case FieldMap:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}
