package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{in: 42, want: 42, ok: true},
		{in: int64(7), want: 7, ok: true},
		{in: 3.0, want: 3, ok: true},
		{in: 3.5, ok: false},
		{in: "19", want: 19, ok: true},
		{in: "x", ok: false},
		{in: nil, ok: false},
	}
	for _, tt := range tests {
		got, ok := ToInt64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestSliceAnyToInt64(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, SliceAnyToInt64([]any{1, 2.0, "3", "bad", 4.5}))
	assert.Nil(t, SliceAnyToInt64("1,2"))
}

func TestConfigGet(t *testing.T) {
	m := map[string]any{
		"key":       "hidden_posts",
		"limit":     10.0,
		"threshold": "0.25",
	}
	assert.Equal(t, "hidden_posts", ConfigGet(m, "key", ""))
	assert.Equal(t, "fallback", ConfigGet(m, "missing", "fallback"))
	assert.Equal(t, 0, ConfigGet(m, "key", 0))
	assert.Equal(t, int64(10), ConfigGetInt64(m, "limit", 0))
	assert.Equal(t, 0.25, ConfigGetFloat64(m, "threshold", 0))
	assert.Equal(t, 1.5, ConfigGetFloat64(nil, "threshold", 1.5))
}
