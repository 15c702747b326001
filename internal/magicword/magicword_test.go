package magicword

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Token
	}{
		{"no placeholders", "plain <b>text</b>", nil},
		{"bare name", "a{{{foo}}}b", []Token{{Name: "foo", Start: 1, End: 10}}},
		{
			name: "arguments",
			text: "{{{foo:a|b|c}}}",
			want: []Token{{Name: "foo", Params: []string{"a", "b", "c"}, Start: 0, End: 15}},
		},
		{
			name: "empty argument string",
			text: "{{{foo:}}}",
			want: []Token{{Name: "foo", Params: []string{}, Start: 0, End: 10}},
		},
		{
			name: "empty inner argument kept",
			text: "{{{foo:a||b}}}",
			want: []Token{{Name: "foo", Params: []string{"a", "", "b"}, Start: 0, End: 14}},
		},
		{"unbalanced braces", "{{{foo}} and {{foo}}}", nil},
		{"colon only", "{{{:x}}}", nil},
		{
			name: "two in a row",
			text: "{{{a}}}{{{b:1}}}",
			want: []Token{
				{Name: "a", Start: 0, End: 7},
				{Name: "b", Params: []string{"1"}, Start: 7, End: 16},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Scan(tt.text)); diff != "" {
				t.Errorf("Scan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitParams(t *testing.T) {
	assert.Equal(t, []string{}, SplitParams(""))
	assert.Equal(t, []string{"a"}, SplitParams("a"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitParams("a|b|c"))
}

func TestNames(t *testing.T) {
	got := Names("{{{b}}} {{{a:1}}} {{{b:2}}} {{{Banner}}}")
	assert.Equal(t, []string{"b", "a", "Banner"}, got)
}

func TestSubstitute_IdentityWithoutPlaceholders(t *testing.T) {
	inputs := []string{"", "hello", "{{not}}", "{{{", "}}}", "<div>{{{x}}</div>"}
	fail := ResolverFunc(func(string, []string) (string, error) {
		t.Fatal("resolver must not be called")
		return "", nil
	})
	for _, in := range inputs {
		out, err := Substitute(in, fail)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestSubstitute_PreservesSurroundingText(t *testing.T) {
	r := ResolverFunc(func(name string, params []string) (string, error) {
		return "<" + name + ">", nil
	})
	out, err := Substitute("  α{{{one}}}β\n{{{two:x}}}γ ", r)
	require.NoError(t, err)
	assert.Equal(t, "  α<one>β\n<two>γ ", out)
}

func TestSubstitute_PassesParams(t *testing.T) {
	var got [][]string
	r := ResolverFunc(func(name string, params []string) (string, error) {
		got = append(got, params)
		return "", nil
	})
	_, err := Substitute("{{{foo:a|b|c}}}{{{foo}}}", r)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {}}, got)
}

func TestSubstitute_NotRecursive(t *testing.T) {
	r := ResolverFunc(func(name string, params []string) (string, error) {
		if name == "outer" {
			return "{{{inner}}}", nil
		}
		t.Fatalf("unexpected resolve of %q", name)
		return "", nil
	})
	out, err := Substitute("[{{{outer}}}]", r)
	require.NoError(t, err)
	assert.Equal(t, "[{{{inner}}}]", out)
}

func TestSubstitute_ResolvesEveryOccurrence(t *testing.T) {
	n := 0
	r := ResolverFunc(func(string, []string) (string, error) {
		n++
		return "x", nil
	})
	out, err := Substitute("{{{a}}}{{{a}}}{{{a}}}", r)
	require.NoError(t, err)
	assert.Equal(t, "xxx", out)
	assert.Equal(t, 3, n)
}

func TestSubstitute_Error(t *testing.T) {
	boom := errors.New("boom")
	r := ResolverFunc(func(name string, _ []string) (string, error) {
		if name == "bad" {
			return "", boom
		}
		return "ok", nil
	})
	out, err := Substitute("{{{good}}}{{{bad}}}", r)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, out)
}
