package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterValidate(t *testing.T) {
	t.Run("no selectors", func(t *testing.T) {
		f := Filter{Limit: 10}
		assert.ErrorIs(t, f.Validate(), ErrFilterNoSelectors)
	})

	t.Run("non-positive limit", func(t *testing.T) {
		f := Filter{Kinds: []int{1}}
		assert.ErrorIs(t, f.Validate(), ErrFilterBadLimit)

		f = Filter{Kinds: []int{1}, Limit: -3}
		assert.ErrorIs(t, f.Validate(), ErrFilterBadLimit)
	})

	t.Run("until defaults to now", func(t *testing.T) {
		f := Filter{Kinds: []int{1}, Limit: 10}
		require.NoError(t, f.Validate())
		require.NotNil(t, f.Until)
		assert.InDelta(t, int64(Now()), int64(*f.Until), 5)
	})

	t.Run("tag selector alone is enough", func(t *testing.T) {
		f := Filter{Tags: TagMap{"p": {"aa"}}, Limit: 1}
		assert.NoError(t, f.Validate())
	})
}

func TestFilterMatches(t *testing.T) {
	evt := &Event{
		ID:        "abc",
		PubKey:    "author1",
		CreatedAt: 100,
		Kind:      1,
		Tags:      Tags{{"p", "target1"}, {"e", "parent1"}},
	}

	testCases := []struct {
		Name    string
		Filter  Filter
		Matches bool
	}{
		{"empty filter matches", Filter{}, true},
		{"kind match", Filter{Kinds: []int{1, 2}}, true},
		{"kind mismatch", Filter{Kinds: []int{2}}, false},
		{"author match", Filter{Authors: []string{"author1"}}, true},
		{"author mismatch", Filter{Authors: []string{"author2"}}, false},
		{"id match", Filter{IDs: []string{"abc"}}, true},
		{"tag match", Filter{Tags: TagMap{"p": {"target1"}}}, true},
		{"tag mismatch", Filter{Tags: TagMap{"p": {"nobody"}}}, false},
		{"tag name mismatch", Filter{Tags: TagMap{"q": {"target1"}}}, false},
		{"since before", Filter{Since: ptr(Timestamp(50))}, true},
		{"since after", Filter{Since: ptr(Timestamp(150))}, false},
		{"until after", Filter{Until: ptr(Timestamp(150))}, true},
		{"until before", Filter{Until: ptr(Timestamp(50))}, false},
		{"until inclusive", Filter{Until: ptr(Timestamp(100))}, true},
		{"since inclusive", Filter{Since: ptr(Timestamp(100))}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Matches, tc.Filter.Matches(evt))
		})
	}

	assert.False(t, Filter{}.Matches(nil))
}

func TestFiltersMatch(t *testing.T) {
	fs := Filters{
		{Kinds: []int{3}},
		{Authors: []string{"author1"}},
	}
	assert.True(t, fs.Match(&Event{PubKey: "author1", Kind: 1}))
	assert.False(t, fs.Match(&Event{PubKey: "author2", Kind: 1}))
}

func TestFilterJSONRoundTrip(t *testing.T) {
	since := Timestamp(1688000000)
	f := Filter{
		IDs:     []string{"aa", "bb"},
		Kinds:   []int{0, 1},
		Authors: []string{"cc"},
		Tags:    TagMap{"e": {"dd"}, "p": {"ee"}},
		Since:   &since,
		Limit:   20,
	}

	raw, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"ids":["aa","bb"],"kinds":[0,1],"authors":["cc"],"#e":["dd"],"#p":["ee"],"since":1688000000,"limit":20}`,
		string(raw))

	var parsed Filter
	require.NoError(t, parsed.UnmarshalJSON(raw))
	assert.Equal(t, f, parsed)
}
