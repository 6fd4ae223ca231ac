package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimestamp_SecondsAreScaled(t *testing.T) {
	for _, sec := range []int64{1, 1_700_000_000, 999_999_999_999} {
		assert.Equal(t, Millis(sec*1000), NormalizeTimestamp(sec), "input %d", sec)
	}
}

func TestNormalizeTimestamp_MillisecondsUnchanged(t *testing.T) {
	for _, ms := range []int64{1_000_000_000_000, 1_700_000_000_123, 8_640_000_000_000_000} {
		assert.Equal(t, Millis(ms), NormalizeTimestamp(ms), "input %d", ms)
	}
}

func TestNormalizeTimestamp_Representations(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want Millis
	}{
		{"numeric string", "1700000000123", 1_700_000_000_123},
		{"seconds string", "1700000000", 1_700_000_000_000},
		{"padded string", "  1700000000123 ", 1_700_000_000_123},
		{"leading digits", "1700000000123abc", 1_700_000_000_123},
		{"json number", json.Number("1700000000123"), 1_700_000_000_123},
		{"json fractional", json.Number("1700000000.9"), 1_700_000_000_000},
		{"float", 1_700_000_000_123.0, 1_700_000_000_123},
		{"time", time.UnixMilli(1_700_000_000_123), 1_700_000_000_123},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeTimestamp(tc.in))
		})
	}
}

func TestNormalizeTimestamp_RejectsInvalid(t *testing.T) {
	inputs := []interface{}{
		nil,
		0,
		-5,
		"0",
		"-1700000000",
		"",
		"abc",
		json.Number("NaN"),
		struct{}{},
		int64(8_640_000_000_000_001),
		time.Time{},
	}
	for _, in := range inputs {
		got := NormalizeTimestamp(in)
		assert.Equal(t, UnknownTime, got, "input %#v", in)
		assert.False(t, got.Known())
	}
}

func TestMillisJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Open  Millis `json:"open"`
		Close Millis `json:"close"`
	}{Open: UnknownTime, Close: 1_700_000_000_123})
	require.NoError(t, err)
	assert.JSONEq(t, `{"open":null,"close":1700000000123}`, string(data))

	var decoded struct {
		Open  Millis `json:"open"`
		Close Millis `json:"close"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"open":"1700000000","close":null}`), &decoded))
	assert.Equal(t, Millis(1_700_000_000_000), decoded.Open)
	assert.Equal(t, UnknownTime, decoded.Close)
}

func TestMillisTime(t *testing.T) {
	assert.True(t, UnknownTime.Time().IsZero())
	assert.Equal(t, time.UnixMilli(1_700_000_000_123).UTC(), Millis(1_700_000_000_123).Time())
}
