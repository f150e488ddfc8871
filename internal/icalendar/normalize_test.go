package icalendar

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNormalizer(t *testing.T) (*Normalizer, time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	fixedNow := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)
	n := NewNormalizer(loc, zap.NewNop())
	n.now = func() time.Time { return fixedNow }
	return n, fixedNow
}

func propWithValue(name, value string) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = value
	return prop
}

func TestNormalize_AwareUTC(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "20240601T100000Z")
	got := n.Normalize(prop)

	assert.True(t, got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
}

func TestNormalize_NaiveUsesLocalZone(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "20240601T090000")
	got := n.Normalize(prop)

	loc, _ := time.LoadLocation("Europe/Amsterdam")
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, loc)))
}

func TestNormalize_TZIDParameter(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "20240601T090000")
	prop.Params.Set(ical.ParamTimezoneID, "America/New_York")
	got := n.Normalize(prop)

	ny, _ := time.LoadLocation("America/New_York")
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, ny)))
}

func TestNormalize_PureDate(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "20240601")
	prop.Params.Set("VALUE", "DATE")
	got := n.Normalize(prop)

	loc, _ := time.LoadLocation("Europe/Amsterdam")
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, loc)))
}

func TestNormalize_TextualRFC3339(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "2024-06-01T10:00:00+02:00")
	got := n.Normalize(prop)

	loc, _ := time.LoadLocation("Europe/Amsterdam")
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, loc)))
}

func TestNormalize_TextualDatePortionFallback(t *testing.T) {
	n, _ := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "2024-06-01Tgarbage")
	got := n.Normalize(prop)

	loc, _ := time.LoadLocation("Europe/Amsterdam")
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, loc)))
}

func TestNormalize_GarbageFallsBackToNow(t *testing.T) {
	n, fixedNow := testNormalizer(t)

	prop := propWithValue(ical.PropDateTimeStart, "not a date at all T")
	got := n.Normalize(prop)

	assert.True(t, got.Equal(fixedNow))
}

func TestNormalize_NilProp(t *testing.T) {
	n, fixedNow := testNormalizer(t)
	assert.True(t, n.Normalize(nil).Equal(fixedNow))
}

func TestNormalize_AlwaysZoned(t *testing.T) {
	n, _ := testNormalizer(t)

	values := []string{
		"20240601T100000Z",
		"20240601T090000",
		"20240601",
		"2024-06-01T10:00:00+02:00",
		"garbage",
		"",
	}
	for _, value := range values {
		got := n.Normalize(propWithValue(ical.PropDateTimeStart, value))
		assert.NotNil(t, got.Location(), "value %q", value)
		assert.False(t, got.IsZero(), "value %q", value)
	}
}

func TestIsDateOnly(t *testing.T) {
	datedProp := propWithValue(ical.PropDateTimeStart, "20240601")
	datedProp.Params.Set("VALUE", "DATE")
	assert.True(t, IsDateOnly(datedProp))

	// No VALUE param but no time component either.
	assert.True(t, IsDateOnly(propWithValue(ical.PropDateTimeStart, "20240601")))

	// A timed value at exactly midnight is not a date: the decision is
	// based on the value's type, never the clock reading.
	assert.False(t, IsDateOnly(propWithValue(ical.PropDateTimeStart, "20240601T000000Z")))
	assert.False(t, IsDateOnly(propWithValue(ical.PropDateTimeStart, "20240601T000000")))

	assert.False(t, IsDateOnly(nil))
}
