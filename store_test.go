package rack

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
)

func testSchema() *Schema {
	scm := NewSchema()
	AddType(scm, "book",
		Req("title", FieldString),
		Req("author", FieldString),
		Opt("rating", FieldInt, 0),
	)
	AddType(scm, "author",
		Req("name", FieldString),
		Opt("fk_books", FieldAny, nil),
	)
	return scm
}

func setup(t testing.TB, scm *Schema) *Store {
	t.Helper()

	dbFile := must(os.CreateTemp("", "rack_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s := must(Open(dbFile.Name(), scm, Options{IsTesting: true}))
	t.Cleanup(func() { s.Close() })
	return s
}

func setupMem(t testing.TB, scm *Schema) *Store {
	t.Helper()
	// The path only places backup archives for a memory store.
	s := must(Open(filepath.Join(t.TempDir(), "rack"), scm, Options{Memory: true}))
	t.Cleanup(func() { s.Close() })
	return s
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil(t testing.TB, v any) {
	if v != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", v)
	}
}

func noerr(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func putBook(t testing.TB, s *Store, title, author string, rating int64) *Entry {
	t.Helper()
	book := s.Schema().TypeNamed("book").MustNew(Unique, Fields{
		"title":  title,
		"author": author,
		"rating": rating,
	})
	return must(s.Put(book))
}

func allKeys(s *Store) []string {
	var keys []string
	for k := range s.Keys() {
		keys = append(keys, k)
	}
	return keys
}

func queryIDs(t testing.TB, s *Store, query string) []int64 {
	t.Helper()
	seq, err := s.QueryAll(query)
	noerr(t, err)
	var ids []int64
	for e := range seq {
		ids = append(ids, e.ID().Int())
	}
	return ids
}

func TestInsertAndCanonicalKey(t *testing.T) {
	s := setup(t, testSchema())

	e := putBook(t, s, "A", "X", 1)
	deepEqual(t, e.ID(), NewID(0))
	deepEqual(t, allKeys(s), []string{"book_0"})

	got, err := s.Get("book_0")
	noerr(t, err)
	deepEqual(t, got.(*Entry).Field("rating"), any(int64(1)))
}

func TestUniqueIncrement(t *testing.T) {
	s := setup(t, testSchema())

	putBook(t, s, "A", "X", 1)
	putBook(t, s, "B", "X", 0)
	putBook(t, s, "C", "Y", 0)
	deepEqual(t, allKeys(s), []string{"book_0", "book_1", "book_2"})

	n, err := s.NextID("book")
	noerr(t, err)
	deepEqual(t, n, 3)
}

func TestNextIDSkipsGaps(t *testing.T) {
	s := setup(t, testSchema())

	book := s.Schema().TypeNamed("book").MustNew(NewID(7), Fields{"title": "A", "author": "X"})
	_, err := s.Put(book)
	noerr(t, err)

	n, err := s.NextID("book")
	noerr(t, err)
	deepEqual(t, n, 8)

	if !s.IsUniqueID("book", 3) {
		t.Errorf("id 3 should be free")
	}
	if s.IsUniqueID("book", 7) {
		t.Errorf("id 7 should be taken")
	}
}

func TestQueryChainAndList(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "The A", "A.B. Cee", 1)
	putBook(t, s, "The B", "A.B. Cee", 4)
	book := s.Schema().TypeNamed("book").MustNew(NewID(4), Fields{
		"title": "E Up!", "author": "B.C. Dea", "rating": 4,
	})
	_, err := s.Put(book)
	noerr(t, err)

	ids := queryIDs(t, s, `book: 3 <= rating <= 5 ; author -> "A.B. Cee", "B.C. Dea"`)
	deepEqual(t, ids, []int64{1, 4})
}

func TestQueryCaseInsensitiveStartsWith(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "The A", "A.B. Cee", 1)
	putBook(t, s, "The B", "A.B. Cee", 4)
	putBook(t, s, "E Up!", "B.C. Dea", 4)

	deepEqual(t, queryIDs(t, s, `book: title <%. "the"`), []int64{0, 1})
}

func TestGetWithQueryKey(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 5)
	putBook(t, s, "B", "Y", 1)

	got, err := s.Get(`book: rating >= 4`)
	noerr(t, err)
	list := got.([]*Entry)
	deepEqual(t, len(list), 1)
	deepEqual(t, list[0].Field("title"), any("A"))
}

func TestQueryMatchesValuesFilter(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 5)
	putBook(t, s, "B", "Y", 1)
	putBook(t, s, "C", "X", 3)

	q := MustParse(`book: author == "X"`)
	var want []int64
	for v := range s.Values() {
		e, ok := v.(*Entry)
		if !ok {
			continue
		}
		if ok, err := q.Match(e); err == nil && ok {
			want = append(want, e.ID().Int())
		}
	}
	deepEqual(t, queryIDs(t, s, `book: author == "X"`), want)
}

func TestQueryDiagnostics(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 5)
	putBook(t, s, "B", "Y", 1)

	deepEqual(t, len(queryIDs(t, s, `book: nosuch == 1`)), 0)
	diags := s.Diagnostics()
	deepEqual(t, len(diags), 2)
	var qerr *QueryError
	if !errors.As(diags[0], &qerr) || !qerr.Eval {
		t.Errorf("** diagnostic is %v, wanted an eval QueryError", diags[0])
	}
}

func TestPutKeyMismatch(t *testing.T) {
	s := setup(t, testSchema())
	book := s.Schema().TypeNamed("book").MustNew(NewID(3), Fields{"title": "A", "author": "X"})

	_, err := s.PutKey("book_9", book)
	var mismatch *KeyMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("** got %v, wanted KeyMismatchError", err)
	}

	_, err = s.PutKey("author_3", book)
	if !errors.As(err, &mismatch) {
		t.Fatalf("** got %v, wanted KeyMismatchError", err)
	}

	_, err = s.PutKey("book_3", book)
	noerr(t, err)
}

func TestPutKeyAdoptsID(t *testing.T) {
	s := setup(t, testSchema())
	book := s.Schema().TypeNamed("book").MustNew(Unique, Fields{"title": "A", "author": "X"})

	stored, err := s.PutKey("book_12", book)
	noerr(t, err)
	deepEqual(t, stored.ID(), NewID(12))
	deepEqual(t, allKeys(s), []string{"book_12"})
}

func TestDeleteAndBin(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 1)

	noerr(t, s.Delete("book_0"))
	if s.Contains("book_0") {
		t.Errorf("book_0 should be gone")
	}
	if _, ok := s.Bin()["book_0"]; !ok {
		t.Errorf("deleted entry should be in the session bin")
	}

	err := s.Delete("book_0")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("** got %v, wanted ErrNotFound", err)
	}

	s.EmptyBin()
	deepEqual(t, len(s.Bin()), 0)
}

func TestGetMissingKey(t *testing.T) {
	s := setup(t, testSchema())
	_, err := s.Get("book_99")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("** got %v, wanted ErrNotFound", err)
	}
}

func TestExists(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 5)

	isnil(t, s.Exists(`book: rating > 9`))
	isnil(t, s.Exists("book_7"))

	e := s.Exists(`book: rating == 5`)
	deepEqual(t, e.(*Entry).Field("title"), any("A"))
	deepEqual(t, s.Exists("book_0").(*Entry).ID(), NewID(0))
}

func TestCount(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 1)
	putBook(t, s, "B", "Y", 2)
	author := s.Schema().TypeNamed("author").MustNew(Unique, Fields{"name": "X"})
	_, err := s.Put(author)
	noerr(t, err)

	n, err := s.Count("book")
	noerr(t, err)
	deepEqual(t, n, 2)
	n, err = s.Count("author")
	noerr(t, err)
	deepEqual(t, n, 1)

	_, err = s.Count("alien")
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Errorf("** got %v, wanted SchemaError", err)
	}
}

func TestItems(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 1)

	var keys []string
	for k, v := range s.Items() {
		keys = append(keys, k)
		deepEqual(t, v.(*Entry).Field("title"), any("A"))
	}
	deepEqual(t, keys, []string{"book_0"})
}

func TestMakeOnce(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 4)

	tag := must(NewTagRef(s.Schema(), "", `book: rating >= 4`))
	wrote, err := s.MakeOnce("hot", tag)
	noerr(t, err)
	deepEqual(t, wrote, true)

	tag2 := must(NewTag(s.Schema(), "", "other"))
	wrote, err = s.MakeOnce("hot", tag2)
	noerr(t, err)
	deepEqual(t, wrote, false)

	// The first write won.
	data, err := s.Get("tag_hot")
	noerr(t, err)
	deepEqual(t, len(data.([]any)), 1)
}

func TestPutNamelessTagFails(t *testing.T) {
	s := setup(t, testSchema())

	tag := must(NewTag(s.Schema(), "", "data"))
	_, err := s.Put(tag)
	var ferr *FieldError
	if !errors.As(err, &ferr) {
		t.Fatalf("** got %v, wanted FieldError", err)
	}
	deepEqual(t, len(allKeys(s)), 0)

	// Naming the tag makes the same put valid.
	tag.SetName("note")
	stored, err := s.Put(tag)
	noerr(t, err)
	deepEqual(t, must(stored.Key()), "tag_note")
}

func TestSortGroupsByRegistrationOrder(t *testing.T) {
	s := setupMem(t, testSchema())

	author := s.Schema().TypeNamed("author").MustNew(Unique, Fields{"name": "X"})
	_, err := s.Put(author)
	noerr(t, err)
	book1 := s.Schema().TypeNamed("book").MustNew(NewID(1), Fields{"title": "B", "author": "X"})
	_, err = s.Put(book1)
	noerr(t, err)
	_, err = s.MakeOnce("note", must(NewTag(s.Schema(), "", "hi")))
	noerr(t, err)
	book0 := s.Schema().TypeNamed("book").MustNew(NewID(0), Fields{"title": "A", "author": "X"})
	_, err = s.Put(book0)
	noerr(t, err)

	deepEqual(t, allKeys(s), []string{"author_0", "book_1", "tag_note", "book_0"})

	noerr(t, s.Sort())
	deepEqual(t, allKeys(s), []string{"book_0", "book_1", "author_0", "tag_note"})
}

func TestWipe(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 1)
	noerr(t, s.Wipe())
	deepEqual(t, len(allKeys(s)), 0)
}

func TestMsgPackStore(t *testing.T) {
	dbFile := must(os.CreateTemp("", "rack_test_*.db"))
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s := must(Open(dbFile.Name(), testSchema(), Options{IsTesting: true, Encoding: MsgPack}))
	t.Cleanup(func() { s.Close() })

	putBook(t, s, "A", "X", 5)
	got, err := s.Get("book_0")
	noerr(t, err)
	deepEqual(t, got.(*Entry).Field("title"), any("A"))
	deepEqual(t, queryIDs(t, s, `book: rating == 5`), []int64{0})
}

func TestKeysIteratorIsRestartable(t *testing.T) {
	s := setup(t, testSchema())
	putBook(t, s, "A", "X", 1)
	putBook(t, s, "B", "Y", 2)

	seq := s.Keys()
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	deepEqual(t, first, second)
}
