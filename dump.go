package rack

import "encoding/json"

// Dump renders the whole store as pretty-printed JSON, keyed by canonical
// key.
func (s *Store) Dump() (string, error) {
	return s.dump("  ")
}

// DumpCompact renders the whole store as single-line JSON.
func (s *Store) DumpCompact() (string, error) {
	return s.dump("")
}

func (s *Store) dump(indent string) (string, error) {
	out := make(map[string]any)
	for key := range s.stor.Keys() {
		raw, err := s.stor.Get(key)
		if err != nil {
			return "", err
		}
		m, err := s.enc.unmarshal(raw)
		if err != nil {
			return "", err
		}
		out[key] = m
	}
	var buf []byte
	var err error
	if indent == "" {
		buf, err = json.Marshal(out)
	} else {
		buf, err = json.MarshalIndent(out, "", indent)
	}
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// String renders the entry as pretty JSON. Foreign-key fields appear under
// their view names, holding the resolved value when the view has been
// materialized and null otherwise — the stored raw form is a wire detail.
func (e *Entry) String() string {
	m := make(map[string]any, len(e.typ.fields)+2)
	if e.id.auto {
		m["id"] = nil
	} else {
		m["id"] = e.id.n
	}
	m["type"] = e.typ.name
	for _, f := range e.typ.fields {
		if f.fk {
			m[f.view] = dumpValue(e.views[f.view])
		} else {
			m[f.Name] = e.fields[f.Name]
		}
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "<unprintable " + e.typ.name + ": " + err.Error() + ">"
	}
	return string(buf)
}

// dumpValue recursively replaces entries with their serialized map form so
// resolved views print inline.
func dumpValue(v any) any {
	switch x := v.(type) {
	case *Entry:
		m, err := encodeEntry(x)
		if err != nil {
			return x.typ.name
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = dumpValue(el)
		}
		return out
	default:
		return v
	}
}
