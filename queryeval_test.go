package rack

import (
	"errors"
	"testing"
)

func evalSchema() *Schema {
	scm := NewSchema()
	AddType(scm, "book",
		Req("title", FieldString),
		Req("author", FieldString),
		Opt("rating", FieldInt, 0),
		Opt("price", FieldFloat, 0.0),
		Opt("read", FieldBool, false),
		Opt("genres", FieldList, []any{}),
	)
	return scm
}

func evalBook(t testing.TB) *Entry {
	t.Helper()
	return evalSchema().TypeNamed("book").MustNew(NewID(3), Fields{
		"title":  "The Fall",
		"author": "A.B. Cee",
		"rating": 4,
		"price":  9.5,
		"read":   true,
		"genres": []any{"satire", "drama"},
	})
}

func matchQuery(t testing.TB, e *Entry, query string) bool {
	t.Helper()
	ok, err := MustParse(query).Match(e)
	noerr(t, err)
	return ok
}

func TestEvalOperators(t *testing.T) {
	e := evalBook(t)

	tests := []struct {
		query string
		want  bool
	}{
		{`book: rating == 4`, true},
		{`book: rating == 5`, false},
		{`book: rating != 5`, true},
		{`book: rating == 4.0`, true}, // numeric cross-kind equality
		{`book: price > 9`, true},
		{`book: price <= 9.5`, true},
		{`book: title < "Z"`, true},
		{`book: title <% "The"`, true},
		{`book: title <% "the"`, false},
		{`book: title <%. "the"`, true},
		{`book: title %> "Fall"`, true},
		{`book: title %>. "FALL"`, true},
		{`book: title !%> "x"`, true},
		{`book: "Fall" -> title`, true}, // substring
		{`book: "satire" -> genres`, true},
		{`book: "horror" -> genres`, false},
		{`book: "horror" !-> genres`, true},
		{`book: author -> "A.B. Cee", "B.C. Dea"`, true},
		{`book: author ->. "a.b. cee", "x"`, true},
		{`book: author !->. "x", "y"`, true},
		{`book: author ==. "a.b. cee"`, true},
		{`book: author !=. "a.b. cee"`, false},
		{`book: read == True`, true},
		{`book: read != False`, true},
		{`book: id == 3`, true},     // envelope fields resolve
		{`book: type == "book"`, true},
		{`book: rating => 4`, true},
		{`book: rating => 4.0`, false}, // identity compare does not coerce
	}
	for _, tt := range tests {
		if got := matchQuery(t, e, tt.query); got != tt.want {
			t.Errorf("%q = %v, wanted %v", tt.query, got, tt.want)
		}
	}
}

func TestEvalChainSemantics(t *testing.T) {
	e := evalBook(t)

	deepEqual(t, matchQuery(t, e, `book: 3 <= rating <= 5`), true)
	deepEqual(t, matchQuery(t, e, `book: 5 <= rating <= 9`), false)
	deepEqual(t, matchQuery(t, e, `book: 1 < rating < 9`), true)

	// Conditions AND-join.
	deepEqual(t, matchQuery(t, e, `book: rating == 4 ; read == True`), true)
	deepEqual(t, matchQuery(t, e, `book: rating == 4 ; read == False`), false)
}

func TestEvalUnknownFieldIsError(t *testing.T) {
	e := evalBook(t)
	_, err := MustParse(`book: nosuch == 1`).Match(e)
	var qerr *QueryError
	if !errors.As(err, &qerr) || !qerr.Eval {
		t.Fatalf("** got %v, wanted an eval QueryError", err)
	}
}

func TestEvalTypeMismatchIsError(t *testing.T) {
	e := evalBook(t)

	// Ordering a bool against a number is incompatible.
	_, err := MustParse(`book: read < 3`).Match(e)
	var qerr *QueryError
	if !errors.As(err, &qerr) || !qerr.Eval {
		t.Fatalf("** got %v, wanted an eval QueryError", err)
	}

	// Starts-with on a number is incompatible without folding.
	_, err = MustParse(`book: rating <% "4"`).Match(e)
	if !errors.As(err, &qerr) || !qerr.Eval {
		t.Fatalf("** got %v, wanted an eval QueryError", err)
	}

	// The folded form stringifies first and is fine.
	ok, err := MustParse(`book: rating <%. "4"`).Match(e)
	noerr(t, err)
	deepEqual(t, ok, true)
}

func TestEvalShortCircuit(t *testing.T) {
	e := evalBook(t)

	// The failing first condition must prevent the broken second condition
	// from evaluating.
	ok, err := MustParse(`book: rating == 9 ; read < 3`).Match(e)
	noerr(t, err)
	deepEqual(t, ok, false)
}
