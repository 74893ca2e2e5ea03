package rack

import (
	"fmt"

	"go.uber.org/zap"
)

// View materializes the projected view of the foreign-key field "fk_<name>":
// a list of fetched values for a key list or an embedded query, a single
// value for a lone key, nil for an empty raw value. The result is computed
// on demand, cached per loaded entry, and never written back.
//
// Resolution is one level deep: foreign keys of the fetched entries stay
// lazy until their own views are accessed.
func (e *Entry) View(name string) (any, error) {
	f := e.typ.fieldsByName[fkPrefix+name]
	if f == nil || !f.fk {
		return nil, fieldErrf(e.typ.name, name, "no foreign-key field fk_%s", name)
	}
	if v, ok := e.views[f.view]; ok {
		return v, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("%s: entry is not attached to a store", e.typ.name)
	}
	v, err := e.store.resolveView(e, f)
	if err != nil {
		return nil, err
	}
	if e.views == nil {
		e.views = make(map[string]any)
	}
	e.views[f.view] = v
	return v, nil
}

// ViewEntries is View for foreign keys known to reference entries (not tag
// data), returning a typed slice. A lone-key view yields a one-element
// slice.
func (e *Entry) ViewEntries(name string) ([]*Entry, error) {
	v, err := e.View(name)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Entry:
		return []*Entry{x}, nil
	case []any:
		out := make([]*Entry, 0, len(x))
		for _, el := range x {
			ent, ok := el.(*Entry)
			if !ok {
				return nil, fieldErrf(e.typ.name, fkPrefix+name, "view element is %T, not an entry", el)
			}
			out = append(out, ent)
		}
		return out, nil
	default:
		return nil, fieldErrf(e.typ.name, fkPrefix+name, "view is %T, not an entry", v)
	}
}

// resolveView expands the stored raw value of a foreign-key field. The
// in-progress set breaks reference cycles: revisiting a key that is already
// being resolved in this call chain yields an empty view and a warning.
func (s *Store) resolveView(e *Entry, f *Field) (any, error) {
	raw := e.fields[f.Name]
	key, err := e.Key()
	if err != nil {
		return nil, err
	}
	if _, busy := s.inflight[key]; busy {
		s.logger.Warn("foreign-key cycle broken", zap.String("key", key), zap.String("field", f.Name))
		return nil, nil
	}
	s.inflight[key] = struct{}{}
	defer delete(s.inflight, key)

	switch x := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		if s.isQuery(x) {
			seq, err := s.QueryAll(x)
			if err != nil {
				return nil, err
			}
			var out []any
			for ent := range seq {
				out = append(out, ent)
			}
			return out, nil
		}
		return s.fetchRef(x)
	case []any:
		if len(x) == 0 {
			return nil, nil
		}
		out := make([]any, 0, len(x))
		for _, el := range x {
			k, ok := el.(string)
			if !ok {
				return nil, fieldErrf(e.typ.name, f.Name, "key list element is %T, not a string", el)
			}
			v, err := s.fetchRef(k)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out = append(out, v)
			}
		}
		return out, nil
	default:
		return nil, fieldErrf(e.typ.name, f.Name, "cannot resolve %T", raw)
	}
}

// fetchRef retrieves one referenced key, honoring the cycle guard: a key
// currently being resolved higher up the chain contributes nothing.
func (s *Store) fetchRef(key string) (any, error) {
	if _, busy := s.inflight[key]; busy {
		s.logger.Warn("foreign-key cycle broken", zap.String("key", key))
		return nil, nil
	}
	return s.getKey(key)
}

// tagData projects a loaded tag to its data value. A non-empty fk_data
// resolves first and takes the place of data, so a tag holding a query
// re-runs it on every read.
func (s *Store) tagData(e *Entry) (any, error) {
	switch x := e.fields[fkPrefix+"data"].(type) {
	case nil:
	case string:
		if x != "" {
			return e.View("data")
		}
	case []any:
		if len(x) > 0 {
			return e.View("data")
		}
	default:
		return e.View("data")
	}
	return e.fields["data"], nil
}
