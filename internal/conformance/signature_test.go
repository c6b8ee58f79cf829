package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSignature(t *testing.T) {
	cases := []struct {
		in   string
		want []sigParam
	}{
		{"", nil},
		{"none", nil},
		{"()", nil},
		{"id:Long", []sigParam{{"id", "long"}}},
		{"id: Long, verbose : Boolean", []sigParam{{"id", "long"}, {"verbose", "boolean"}}},
		{"Long id, final String name", []sigParam{{"id", "long"}, {"name", "string"}}},
		{"(@PathVariable(\"id\") Long id)", []sigParam{{"id", "long"}}},
		{"Map<String, List<Long>> index", []sigParam{{"index", "map<string,list<long>>"}}},
		{"Long", []sigParam{{"", "long"}}},
		{"limit?: number", []sigParam{{"limit", "number"}}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseSignature(tc.in), tc.in)
	}
}

func TestSameParams(t *testing.T) {
	named := []sigParam{{"id", "long"}, {"verbose", "boolean"}}
	assert.True(t, sameParams(named, []sigParam{{"verbose", "boolean"}, {"id", "long"}}))
	assert.False(t, sameParams(named, []sigParam{{"id", "long"}, {"debug", "boolean"}}))
	assert.True(t, sameParams([]sigParam{{"", "long"}, {"", "boolean"}}, named))
	assert.False(t, sameParams(named[:1], named))
}

func TestParseDescriptor(t *testing.T) {
	d, ok := parseDescriptor("`get /books/{bookId}/` returns a book")
	assert.True(t, ok)
	assert.Equal(t, descriptor{method: "GET", path: "/books/{}"}, d)

	d, ok = parseDescriptor("Calls http://reviews:8081/reviews?book=1.")
	assert.True(t, ok)
	assert.Equal(t, descriptor{path: "/reviews"}, d)

	_, ok = parseDescriptor("looks up reviews")
	assert.False(t, ok)
}

func TestInlineDiffAndClosest(t *testing.T) {
	assert.Equal(t, "id:long{+, verbose:boolean+}", inlineDiff("id:long", "id:long, verbose:boolean"))

	near, ok := closest("GET /book/{}", []string{"DELETE /orders", "GET /books/{}"})
	assert.True(t, ok)
	assert.Equal(t, "GET /books/{}", near)

	_, ok = closest("GET /x", nil)
	assert.False(t, ok)
}
