package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState() map[string]any {
	return map[string]any{
		"name": map[string]any{
			"first": "John",
			"last":  "Doe",
		},
		"favorite": map[string]any{
			"categories": map[string]any{
				"movies": []any{"The Matrix", "The Godfather"},
				"music":  []any{"Jazz", "Blues"},
			},
		},
		"age":        float64(30),
		"is_student": true,
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		expression string
		want       []string
	}{
		{"a && b || c", []string{"a", "&&", "b", "||", "c"}},
		{"d == e", []string{"d", "==", "e"}},
		{"f > g", []string{"f", ">", "g"}},
		{"k&&l", []string{"k", "&&", "l"}},
		{"m  ||  n", []string{"m", "||", "n"}},
		{"o > p && q <= r || s == t", []string{"o", ">", "p", "&&", "q", "<=", "r", "||", "s", "==", "t"}},
		{"!a != b", []string{"!", "a", "!=", "b"}},
		{"(x >= 1)", []string{"(", "x", ">=", "1", ")"}},
		{`name == "a && b"`, []string{"name", "==", `"a && b"`}},
		{"   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.expression))
		})
	}
}

func TestEvaluate(t *testing.T) {
	state := testState()

	tests := []struct {
		expression string
		want       bool
	}{
		{"name.first && age", true},
		{"age == 30", true},
		{"favorite.categories.music && favorite.categories.movies", true},
		{"age > 10", true},
		{"name && name.first", true},
		{"is_student", true},
		{"is_student && name.first", true},
		{"!is_student || true", true},
		{"name.middle", false},
		{"name.first && (age == 31)", false},
		{"name.first && false", false},
		{`"a" == "b"`, false},
		{"!is_student", false},
		{"!is_student && name.first", false},
		{"age == '30'", true},
		{"is_student == 1", true},
		{"age != 30", false},
		{"age >= 30 && age <= 30", true},
		{"name.last < 'E'", true},
		{"missing > 0", false},
		{"!(age > 40)", true},
		{"!!is_student", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := Evaluate(Tokenize(tt.expression), state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_LeftToRightFold(t *testing.T) {
	got, err := Evaluate(Tokenize("a && b || c"), map[string]any{"a": true, "b": false, "c": true})
	require.NoError(t, err)
	assert.True(t, got)

	// Without precedence, a || b && c folds as (a || b) && c.
	got, err = Evaluate(Tokenize("a || b && c"), map[string]any{"a": true, "b": false, "c": false})
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Evaluate(Tokenize("a || (b && c)"), map[string]any{"a": true, "b": false, "c": false})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_Parenthesized(t *testing.T) {
	got, err := Evaluate(Tokenize("(age == 31)"), map[string]any{"age": 30})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_DoesNotMutateTokens(t *testing.T) {
	tokens := Tokenize("name.first && (age == 31)")
	before := append([]string(nil), tokens...)

	_, err := Evaluate(tokens, testState())
	require.NoError(t, err)
	assert.Equal(t, before, tokens)
}

func TestCompile_SyntaxErrors(t *testing.T) {
	tests := []struct {
		expression string
		want       error
	}{
		{"", ErrEmpty},
		{"name.first &&", ErrMissingOperand},
		{"&& a", ErrMissingOperand},
		{"(a && b", ErrUnbalanced},
		{"a && b)", ErrUnbalanced},
		{"a b", ErrUnexpectedToken},
		{"a !b", ErrUnexpectedToken},
		{"'abc", ErrUnterminatedString},
		{"a == == b", ErrMissingOperand},
		{"()", ErrUnbalanced},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			_, err := Compile(tt.expression)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			assert.True(t, errors.Is(err, ErrSyntax))
		})
	}
}

func TestExpression_PathsAndRoots(t *testing.T) {
	e := MustCompile("user.name && count > 2 || (user.age >= 18 && 'x' == flag)")

	assert.Equal(t, []string{"user.name", "count", "user.age", "flag"}, e.Paths())
	assert.Equal(t, []string{"user", "count", "flag"}, e.Roots())
	assert.Equal(t, "user.name && count > 2 || (user.age >= 18 && 'x' == flag)", e.String())
}

func TestExpression_ReusableAcrossStates(t *testing.T) {
	e := MustCompile("age > 17 && active")

	assert.True(t, e.Eval(map[string]any{"age": 20, "active": true}))
	assert.False(t, e.Eval(map[string]any{"age": 15}))
	assert.False(t, e.Eval(map[string]any{"age": 20}))
}

func TestLookup(t *testing.T) {
	state := testState()

	v, ok := Lookup("name.first", state)
	require.True(t, ok)
	assert.Equal(t, "John", v)

	_, ok = Lookup("name.middle.initial", state)
	assert.False(t, ok, "traversing through a missing segment resolves to nothing")

	_, ok = Lookup("favorite.categories.movies.0", state)
	assert.False(t, ok, "numeric segments do not index slices")

	v, ok = Lookup("42", state)
	require.True(t, ok)
	assert.Equal(t, float64(42), v)

	v, ok = Lookup("-1.5", nil)
	require.True(t, ok)
	assert.Equal(t, -1.5, v)

	_, ok = Lookup("a.b", map[string]any{"a": nil})
	assert.False(t, ok, "nil in the middle of a path short-circuits")

	v, ok = Lookup("a", map[string]any{"a": nil})
	assert.True(t, ok, "a present nil leaf is defined")
	assert.Nil(t, v)

	_, ok = Lookup("", state)
	assert.False(t, ok)
}

func TestLookup_Structs(t *testing.T) {
	type user struct {
		Name  string `json:"name"`
		Email string
		inner string
	}
	state := map[string]any{"user": &user{Name: "Ada", Email: "ada@example.com", inner: "x"}}

	v, ok := Lookup("user.name", state)
	require.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = Lookup("user.Email", state)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", v)

	_, ok = Lookup("user.inner", state)
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"string", "x", "x"},
		{"integer float", float64(30), "30"},
		{"fraction", 1.25, "1.25"},
		{"int", 7, "7"},
		{"bool", true, "true"},
		{"slice", []any{"a", 1.0, nil, true}, "a,1,,true"},
		{"map", map[string]any{"a": 1}, "[object Object]"},
		{"large", 1e21, "1e+21"},
		{"small", 1.5e-7, "1.5e-7"},
		{"nan", math.NaN(), "NaN"},
		{"inf", math.Inf(-1), "-Infinity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in))
		})
	}
}

func TestLooseEqual(t *testing.T) {
	assert.True(t, LooseEqual(1, "1"))
	assert.True(t, LooseEqual(true, 1.0))
	assert.True(t, LooseEqual("", 0))
	assert.True(t, LooseEqual(nil, nil))
	assert.True(t, LooseEqual([]any{"a", "b"}, "a,b"))
	assert.False(t, LooseEqual(nil, 0))
	assert.False(t, LooseEqual("abc", 0))
	assert.False(t, LooseEqual(map[string]any{}, map[string]any{}))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(math.NaN()))
	assert.True(t, Truthy([]any{}))
	assert.True(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("0"))
}

func TestFields(t *testing.T) {
	type item struct {
		Title string `json:"title,omitempty"`
		Done  bool
		Skip  int `json:"-"`
	}

	f, ok := Fields(item{Title: "a", Done: true})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "a", "Done": true}, f)

	f, ok = Fields(map[string]int{"n": 1})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"n": 1}, f)

	_, ok = Fields("text")
	assert.False(t, ok)
	_, ok = Fields([]any{1})
	assert.False(t, ok)
}

func TestItems(t *testing.T) {
	items, ok := Items([]string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, items)

	_, ok = Items(map[string]any{})
	assert.False(t, ok)
	_, ok = Items(nil)
	assert.False(t, ok)
}
