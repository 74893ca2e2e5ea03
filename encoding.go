package rack

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the byte form of stored entry values. JSON is the default
// and the documented stored contract; MsgPack produces more compact stores.
// Backup archives are always JSON regardless of the store encoding.
type Encoding int

const (
	JSON Encoding = iota
	MsgPack
)

func (enc Encoding) marshal(m map[string]any) ([]byte, error) {
	switch enc {
	case JSON:
		return json.Marshal(m)
	case MsgPack:
		var buf bytes.Buffer
		me := msgpack.GetEncoder()
		me.Reset(&buf)
		me.SetSortMapKeys(true)
		err := me.Encode(m)
		msgpack.PutEncoder(me)
		if err != nil {
			return nil, fmt.Errorf("msgpack encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		panic("unsupported encoding")
	}
}

func (enc Encoding) unmarshal(raw []byte) (map[string]any, error) {
	switch enc {
	case JSON:
		return decodeJSONObject(raw)
	case MsgPack:
		var r bytes.Reader
		r.Reset(raw)
		md := msgpack.GetDecoder()
		md.Reset(&r)
		var m map[string]any
		err := md.Decode(&m)
		msgpack.PutDecoder(md)
		if err != nil {
			return nil, fmt.Errorf("msgpack decode: %w", err)
		}
		norm, err := normalizeValue(m)
		if err != nil {
			return nil, err
		}
		return norm.(map[string]any), nil
	default:
		panic("unsupported encoding")
	}
}

// decodeJSONObject parses a JSON object keeping integers exact.
func decodeJSONObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	norm, err := normalizeValue(m)
	if err != nil {
		return nil, err
	}
	return norm.(map[string]any), nil
}

// normalizeValue canonicalizes a decoded or user-supplied value into the
// forms the rest of the package works with: int64, float64, bool, string,
// []any, map[string]any, nil.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number %q", x.String())
		}
		return f, nil
	case []string:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = el
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			norm, err := normalizeValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			norm, err := normalizeValue(el)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// encodeEntry emits the serialized map form: the {id, type} envelope, all
// declared non-FK fields, and FK fields as stored. Projected views are never
// serialized.
func encodeEntry(e *Entry) (map[string]any, error) {
	if e.id.auto {
		return nil, fmt.Errorf("%s: cannot encode an entry with an unassigned id", e.typ.name)
	}
	m := make(map[string]any, len(e.typ.fields)+2)
	m["id"] = e.id.n
	m["type"] = e.typ.name
	for _, f := range e.typ.fields {
		m[f.Name] = e.fields[f.Name]
	}
	return m, nil
}

// decodeEntry rebuilds an entry from its serialized map form, looking the
// schema up by the embedded type discriminator. Unknown types are schema
// errors; extra, missing or mistyped fields are field errors.
func decodeEntry(scm *Schema, m map[string]any) (*Entry, error) {
	typeName, ok := m["type"].(string)
	if !ok || typeName == "" {
		return nil, schemaErrf("", "entry has an empty or missing type field")
	}
	typ := scm.TypeNamed(typeName)
	if typ == nil {
		return nil, schemaErrf(typeName, "type is not registered")
	}
	id, ok := m["id"].(int64)
	if !ok || id < 0 {
		return nil, fieldErrf(typeName, "id", "missing or not a non-negative integer")
	}

	fields := make(Fields, len(m))
	for name, v := range m {
		if name == "id" || name == "type" {
			continue
		}
		if typ.fieldsByName[name] == nil {
			return nil, fieldErrf(typeName, name, "field not declared")
		}
		fields[name] = v
	}
	return typ.New(NewID(id), fields)
}
