package rack

import (
	"iter"
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store is the mapping-style façade over the key-value file. It is
// single-process and single-threaded by contract; callers sharing a store
// across goroutines must provide their own mutual exclusion.
type Store struct {
	stor     storage
	schema   *Schema
	enc      Encoding
	logger   *zap.Logger
	path     string
	bin      map[string][]byte
	inflight map[string]struct{}
	diags    []error

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

// Options configure Open.
type Options struct {
	// Logger receives cycle warnings and per-record evaluation diagnostics.
	// Defaults to zap.NewNop().
	Logger *zap.Logger

	// Wipe truncates the database at construction, without prompting.
	Wipe bool

	// Memory uses the transient insertion-ordered backend instead of a
	// bolt file; path is then only used to place backup archives.
	Memory bool

	// IsTesting trades durability for speed in the bolt backend.
	IsTesting bool

	// Encoding selects the stored value form; JSON is the default.
	Encoding Encoding
}

// Open opens (or creates) the database file and binds it to a schema.
func Open(path string, scm *Schema, opt Options) (*Store, error) {
	var stor storage
	var err error
	if opt.Memory {
		stor = newMemStorage()
	} else {
		stor, err = openBoltStorage(path, opt.IsTesting)
		if err != nil {
			return nil, err
		}
	}

	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		stor:     stor,
		schema:   scm,
		enc:      opt.Encoding,
		logger:   logger,
		path:     path,
		bin:      make(map[string][]byte),
		inflight: make(map[string]struct{}),
	}
	if opt.Wipe {
		if err := s.Wipe(); err != nil {
			stor.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Schema() *Schema { return s.schema }

func (s *Store) Close() error {
	return s.stor.Close()
}

// Wipe removes every stored entry. The session bin survives.
func (s *Store) Wipe() error {
	s.logger.Info("wiping store", zap.String("path", s.path))
	return s.stor.Wipe()
}

// isQuery classifies a string: it is a query iff it contains ':' and the
// prefix before the first ':' names a registered type or a stored tag.
func (s *Store) isQuery(str string) bool {
	target, _, ok := strings.Cut(str, targetSep)
	if !ok {
		return false
	}
	target = strings.TrimSpace(target)
	if s.schema.TypeNamed(target) != nil {
		return true
	}
	raw, _ := s.stor.Get(TagKey(target))
	return raw != nil
}

// Get reads the store by key. A canonical key returns the decoded entry, a
// tag key (or bare tag name) returns the tag's data after foreign-key
// resolution, and a query string returns the list of matching entries.
func (s *Store) Get(key string) (any, error) {
	if s.isQuery(key) {
		seq, err := s.QueryAll(key)
		if err != nil {
			return nil, err
		}
		out := []*Entry{}
		for e := range seq {
			out = append(out, e)
		}
		return out, nil
	}
	return s.getKey(key)
}

func (s *Store) getKey(key string) (any, error) {
	e, err := s.loadEntry(key)
	if err != nil {
		return nil, err
	}
	if e.IsTag() {
		return s.tagData(e)
	}
	return e, nil
}

// GetEntry reads a literal key and returns the decoded record itself, with
// no tag projection. This is the way to inspect a tag record rather than
// its data.
func (s *Store) GetEntry(key string) (*Entry, error) {
	return s.loadEntry(key)
}

func (s *Store) loadEntry(key string) (*Entry, error) {
	raw, err := s.stor.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil && !strings.HasPrefix(key, TagType+keySep) {
		// A bare tag name addresses "tag_{name}".
		if alias, aerr := s.stor.Get(TagKey(key)); aerr == nil && alias != nil {
			key, raw = TagKey(key), alias
		}
	}
	if raw == nil {
		return nil, keyErr(key)
	}
	s.ReadCount.Add(1)

	m, err := s.enc.unmarshal(raw)
	if err != nil {
		return nil, err
	}
	e, err := decodeEntry(s.schema, m)
	if err != nil {
		return nil, err
	}
	if name, ok := tagName(key); ok && e.IsTag() {
		e.name = name
	}
	e.store = s
	return e, nil
}

// Put stores an entry under its canonical key, assigning the next free id
// first when the entry carries the Unique sentinel. The stored entry is
// returned, id filled in.
func (s *Store) Put(e *Entry) (*Entry, error) {
	if err := s.checkRegistered(e); err != nil {
		return nil, err
	}
	if e.IsTag() && e.name == "" {
		return nil, fieldErrf(TagType, "", "tag has no name; use MakeOnce or SetName before putting it")
	}
	if e.id.auto {
		n, err := s.NextID(e.typ.name)
		if err != nil {
			return nil, err
		}
		e.id = NewID(n)
	}
	key, err := e.Key()
	if err != nil {
		return nil, err
	}
	return s.putRaw(key, e)
}

// PutKey stores an entry under an explicit key. The key must agree with the
// entry's type and id; an entry with an unassigned id adopts the id (or tag
// name) embedded in the key.
func (s *Store) PutKey(key string, e *Entry) (*Entry, error) {
	if err := s.checkRegistered(e); err != nil {
		return nil, err
	}
	if e.IsTag() {
		name, ok := tagName(key)
		if !ok {
			return nil, &KeyMismatchError{Key: key, Want: TagKey(e.name)}
		}
		if e.name != "" && e.name != name {
			return nil, &KeyMismatchError{Key: key, Want: TagKey(e.name)}
		}
		e.name = name
		if e.id.auto {
			n, err := s.NextID(TagType)
			if err != nil {
				return nil, err
			}
			e.id = NewID(n)
		}
		return s.putRaw(key, e)
	}

	typeName, id, ok := parseNumericKey(key)
	if !ok || typeName != e.typ.name {
		return nil, &KeyMismatchError{Key: key, Want: e.typ.name + keySep + e.id.String()}
	}
	if e.id.auto {
		e.id = NewID(id)
	} else if e.id.n != id {
		return nil, &KeyMismatchError{Key: key, Want: CanonicalKey(e.typ.name, e.id.n)}
	}
	return s.putRaw(key, e)
}

func (s *Store) putRaw(key string, e *Entry) (*Entry, error) {
	m, err := encodeEntry(e)
	if err != nil {
		return nil, err
	}
	raw, err := s.enc.marshal(m)
	if err != nil {
		return nil, err
	}
	if err := s.stor.Put(key, raw); err != nil {
		return nil, err
	}
	s.WriteCount.Add(1)
	e.store = s
	return e, nil
}

func (s *Store) checkRegistered(e *Entry) error {
	if s.schema.TypeNamed(e.typ.name) != e.typ {
		return schemaErrf(e.typ.name, "type is not registered with this store")
	}
	return nil
}

// Delete removes a literal key. The raw entry moves to the session bin
// until EmptyBin.
func (s *Store) Delete(key string) error {
	raw, err := s.stor.Get(key)
	if err != nil {
		return err
	}
	if raw == nil {
		return keyErr(key)
	}
	s.bin[key] = raw
	return s.stor.Delete(key)
}

// Bin exposes the session bin: raw encoded entries deleted since Open or
// the last EmptyBin.
func (s *Store) Bin() map[string][]byte { return s.bin }

// EmptyBin discards the session bin.
func (s *Store) EmptyBin() {
	s.bin = make(map[string][]byte)
}

// Contains reports whether a literal key is stored.
func (s *Store) Contains(key string) bool {
	raw, err := s.stor.Get(key)
	return err == nil && raw != nil
}

// Exists returns the first value matching a query, or the value at a
// literal key; nil when nothing matches. It never fails.
func (s *Store) Exists(queryOrKey string) any {
	v, err := s.Get(queryOrKey)
	if err != nil {
		return nil
	}
	if list, ok := v.([]*Entry); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// NextID returns max(stored id)+1 for a type, or 0 when none exist. The
// scan is linear over stored keys; there is no secondary index.
func (s *Store) NextID(typeName string) (int64, error) {
	typ := s.schema.TypeNamed(typeName)
	if typ == nil {
		return 0, schemaErrf(typeName, "type is not registered")
	}
	maxID := int64(-1)
	if typ.IsTag() {
		// Tags are keyed by name, so their ids only live in the values.
		for key := range s.stor.Keys() {
			if _, ok := tagName(key); !ok {
				continue
			}
			raw, err := s.stor.Get(key)
			if err != nil || raw == nil {
				continue
			}
			m, err := s.enc.unmarshal(raw)
			if err != nil {
				continue
			}
			if id, ok := m["id"].(int64); ok {
				maxID = max(maxID, id)
			}
		}
		return maxID + 1, nil
	}
	for key := range s.stor.Keys() {
		if t, id, ok := parseNumericKey(key); ok && t == typeName {
			maxID = max(maxID, id)
		}
	}
	return maxID + 1, nil
}

// IsUniqueID reports whether an explicit id is still free for a type.
func (s *Store) IsUniqueID(typeName string, id int64) bool {
	return !s.Contains(CanonicalKey(typeName, id))
}

// Count returns the number of stored entries of a type.
func (s *Store) Count(typeName string) (int, error) {
	typ := s.schema.TypeNamed(typeName)
	if typ == nil {
		return 0, schemaErrf(typeName, "type is not registered")
	}
	n := 0
	for key := range s.stor.Keys() {
		if s.keyOfType(key, typ) {
			n++
		}
	}
	return n, nil
}

func (s *Store) keyOfType(key string, typ *Type) bool {
	if typ.IsTag() {
		_, ok := tagName(key)
		return ok
	}
	t, _, ok := parseNumericKey(key)
	return ok && t == typ.name
}

// Keys iterates over all stored keys. Each call returns a fresh iterator.
func (s *Store) Keys() iter.Seq[string] {
	return s.stor.Keys()
}

// Values iterates over all stored values: entries, with tags projected to
// their data. Records that fail to decode are skipped with a logged
// diagnostic.
func (s *Store) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for key := range s.stor.Keys() {
			v, err := s.getKey(key)
			if err != nil {
				s.logger.Warn("skipping unreadable entry", zap.String("key", key), zap.Error(err))
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Items iterates over (key, value) pairs the way Values does.
func (s *Store) Items() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for key := range s.stor.Keys() {
			v, err := s.getKey(key)
			if err != nil {
				s.logger.Warn("skipping unreadable entry", zap.String("key", key), zap.Error(err))
				continue
			}
			if !yield(key, v) {
				return
			}
		}
	}
}

// QueryAll runs a query as a lazy single-pass scan. The parse and target
// checks happen up front; the returned iterator is restartable. Entries
// that fail evaluation are non-matches; the errors accumulate as
// diagnostics for the most recent scan.
func (s *Store) QueryAll(query string) (iter.Seq[*Entry], error) {
	q, err := Parse(query)
	if err != nil {
		return nil, err
	}
	if typ := s.schema.TypeNamed(q.Target); typ != nil {
		return s.queryScan(q, typ), nil
	}
	if raw, err := s.stor.Get(TagKey(q.Target)); err == nil && raw != nil {
		return s.queryTag(q), nil
	}
	return nil, schemaErrf(q.Target, "query target is neither a registered type nor a stored tag")
}

func (s *Store) queryScan(q *Query, typ *Type) iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		s.diags = nil
		for key := range s.stor.Keys() {
			if !s.keyOfType(key, typ) {
				continue
			}
			e, err := s.loadEntry(key)
			if err != nil {
				s.diags = append(s.diags, err)
				s.logger.Warn("query skipping entry", zap.String("key", key), zap.Error(err))
				continue
			}
			ok, err := q.Match(e)
			if err != nil {
				s.diags = append(s.diags, err)
				s.logger.Warn("query skipping entry", zap.String("key", key), zap.Error(err))
				continue
			}
			if ok && !yield(e) {
				return
			}
		}
	}
}

// queryTag filters the entries held by a stored tag's data.
func (s *Store) queryTag(q *Query) iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		s.diags = nil
		data, err := s.getKey(TagKey(q.Target))
		if err != nil {
			s.diags = append(s.diags, err)
			return
		}
		var candidates []*Entry
		switch x := data.(type) {
		case *Entry:
			candidates = []*Entry{x}
		case []*Entry:
			candidates = x
		case []any:
			for _, el := range x {
				if e, ok := el.(*Entry); ok {
					candidates = append(candidates, e)
				}
			}
		}
		for _, e := range candidates {
			ok, err := q.Match(e)
			if err != nil {
				s.diags = append(s.diags, err)
				s.logger.Warn("query skipping entry", zap.Error(err))
				continue
			}
			if ok && !yield(e) {
				return
			}
		}
	}
}

// Diagnostics returns the evaluation errors accumulated by the most recent
// query scan.
func (s *Store) Diagnostics() []error {
	return slices.Clone(s.diags)
}

// MakeOnce stores an entry only if its key is absent, reporting whether a
// write happened. For tags, name is the user-chosen tag name; for other
// entries it is a literal key ("" means the entry's canonical key).
func (s *Store) MakeOnce(name string, e *Entry) (bool, error) {
	if err := s.checkRegistered(e); err != nil {
		return false, err
	}
	key := name
	if e.IsTag() {
		if n, ok := tagName(name); ok {
			name = n
		}
		key = TagKey(name)
	} else if key == "" {
		k, err := e.Key()
		if err != nil {
			return false, err
		}
		key = k
	}
	if s.Contains(key) {
		return false, nil
	}
	if _, err := s.PutKey(key, e); err != nil {
		return false, err
	}
	return true, nil
}

// Sort rewrites the storage so iteration yields entries grouped by type
// registration order, ids ascending, tags last by name. A safety archive
// ("before_sort") is written first. On byte-ordered backends (bolt) the
// rewrite has no observable effect.
func (s *Store) Sort() error {
	if err := s.Backup("before_sort"); err != nil {
		return err
	}

	type pair struct {
		key string
		raw []byte
	}
	var ordered []pair
	for _, typ := range s.schema.Types() {
		for _, key := range s.typeKeysSorted(typ) {
			raw, err := s.stor.Get(key)
			if err != nil {
				return err
			}
			ordered = append(ordered, pair{key, raw})
		}
	}
	if err := s.stor.Wipe(); err != nil {
		return err
	}
	for _, p := range ordered {
		if err := s.stor.Put(p.key, p.raw); err != nil {
			return err
		}
	}
	return nil
}

// typeKeysSorted returns the stored keys of one type in canonical order:
// ids ascending, or names ascending for tags.
func (s *Store) typeKeysSorted(typ *Type) []string {
	if typ.IsTag() {
		var keys []string
		for key := range s.stor.Keys() {
			if _, ok := tagName(key); ok {
				keys = append(keys, key)
			}
		}
		slices.Sort(keys)
		return keys
	}
	type keyID struct {
		key string
		id  int64
	}
	var pairs []keyID
	for key := range s.stor.Keys() {
		if t, id, ok := parseNumericKey(key); ok && t == typ.name {
			pairs = append(pairs, keyID{key, id})
		}
	}
	slices.SortFunc(pairs, func(a, b keyID) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	return keys
}
