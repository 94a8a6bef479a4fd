package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 6, 1, 14, 58, 30, 0, time.UTC)
	cases := []struct {
		in string
		ok bool
	}{
		{"2024-06-01T14:58:30Z", true},
		{"2024-06-01T16:58:30+02:00", true},
		{"1717253910", true},
		{"1717253910000", true},
		{" 1717253910 ", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tc := range cases {
		got, ok := ParseTime(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.True(t, want.Equal(got), "%s parsed as %s", tc.in, got)
			assert.Equal(t, time.UTC, got.Location())
		}
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Unix(42, 0)
	assert.Equal(t, def, ParseTimeDefault("", def))
	assert.Equal(t, def, ParseTimeDefault("nope", def))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"1.1", "1.2"}, SplitList(" 1.1, ,1.2,"))
	assert.Nil(t, SplitList(""))
}
