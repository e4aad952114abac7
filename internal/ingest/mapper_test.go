package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := NewMapper()
	require.NoError(t, err)
	return m
}

func TestMapper_ModernHeader(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{
		"CMS Certification Number (CCN)", "Provider Name", "State", "City/Town",
		"Overall Rating", "Number of Certified Beds", "Abuse Icon", "Processing Date",
	})

	snap, ok := b.Map([]string{
		"15009", "BURNS NURSING HOME", "al", "RUSSELLVILLE",
		"3", "1,234", "Yes", "2026-08-01",
	})
	require.True(t, ok)

	assert.Equal(t, "015009", snap.CCN)
	assert.Equal(t, "AL", snap.State)
	assert.Equal(t, "BURNS NURSING HOME", snap.ProviderName)
	assert.Equal(t, "RUSSELLVILLE", snap.City)
	require.NotNil(t, snap.OverallRating)
	assert.Equal(t, int64(3), *snap.OverallRating)
	require.NotNil(t, snap.CertifiedBeds)
	assert.Equal(t, int64(1234), *snap.CertifiedBeds)
	require.NotNil(t, snap.AbuseIcon)
	assert.True(t, *snap.AbuseIcon)
	require.NotNil(t, snap.ProcessingDate)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), *snap.ProcessingDate)
}

func TestMapper_LegacyHeaderAliases(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{
		"Federal Provider Number", "Provider Name", "Provider State",
		"Provider City", "Provider Zip Code",
	})

	snap, ok := b.Map([]string{"15009", "BURNS NURSING HOME", "AL", "RUSSELLVILLE", "35653"})
	require.True(t, ok)
	assert.Equal(t, "015009", snap.CCN)
	assert.Equal(t, "AL", snap.State)
	assert.Equal(t, "RUSSELLVILLE", snap.City)
	assert.Equal(t, "35653", snap.ZipCode)
}

func TestMapper_PlaceholderAndGarbageToNil(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{
		"CMS Certification Number (CCN)", "State", "Overall Rating",
		"Average Number of Residents per Day", "Processing Date",
	})

	snap, ok := b.Map([]string{"015009", "AL", "-", "not a number", "13/45/999"})
	require.True(t, ok)
	assert.Nil(t, snap.OverallRating)
	assert.Nil(t, snap.AverageResidents)
	assert.Nil(t, snap.ProcessingDate)
}

func TestMapper_MissingMappedColumnYieldsNil(t *testing.T) {
	m := newTestMapper(t)
	// No rating columns in the header at all.
	b := m.Bind([]string{"CMS Certification Number (CCN)", "State"})

	snap, ok := b.Map([]string{"015009", "AL"})
	require.True(t, ok)
	assert.Nil(t, snap.OverallRating)
	assert.Nil(t, snap.QMRating)
	assert.Empty(t, snap.ProviderName)
}

func TestMapper_ShortRecordTolerated(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{"CMS Certification Number (CCN)", "State", "Overall Rating"})

	snap, ok := b.Map([]string{"015009", "AL"})
	require.True(t, ok)
	assert.Nil(t, snap.OverallRating)
}

func TestMapper_DropsRowsMissingNaturalKey(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{"CMS Certification Number (CCN)", "State", "Provider Name"})

	_, ok := b.Map([]string{"", "AL", "NO CCN HOME"})
	assert.False(t, ok)

	_, ok = b.Map([]string{"-", "AL", "PLACEHOLDER CCN"})
	assert.False(t, ok)
}

func TestMapper_StateFallsBackToCCNPrefix(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{"CMS Certification Number (CCN)", "Provider Name"})

	snap, ok := b.Map([]string{"015009", "BURNS NURSING HOME"})
	require.True(t, ok)
	assert.Equal(t, "01", snap.State)
}

func TestCoerceBool_Policy(t *testing.T) {
	yes := "Yes"
	y := "y"
	tru := "TRUE"
	one := "1"
	no := "No"
	junk := "whatever"

	for _, raw := range []*string{&yes, &y, &tru, &one} {
		got := coerceBool(raw)
		require.NotNil(t, got, "raw=%s", *raw)
		assert.True(t, *got, "raw=%s", *raw)
	}

	for _, raw := range []*string{&no, &junk} {
		got := coerceBool(raw)
		require.NotNil(t, got, "raw=%s", *raw)
		assert.False(t, *got, "raw=%s", *raw)
	}

	// Absent is nil, not false.
	assert.Nil(t, coerceBool(nil))
}

func TestCoerceDate_Formats(t *testing.T) {
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-08-01", "08/01/2026", "2026-08-01 12:30:00"} {
		got := coerceDate(&raw)
		require.NotNil(t, got, "raw=%s", raw)
		assert.Equal(t, want, *got, "raw=%s", raw)
	}
}

func TestStandardizeCCN(t *testing.T) {
	cases := map[string]string{
		"15009":      "015009",
		" 015009 ":   "015009",
		"01-5009":    "015009",
		"0150091234": "015009",
		"55A123":     "55A123",
		"":           "",
		"--":         "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, StandardizeCCN(raw), "raw=%q", raw)
	}
}

func TestMapper_Deterministic(t *testing.T) {
	m := newTestMapper(t)
	b := m.Bind([]string{"CMS Certification Number (CCN)", "State", "Overall Rating"})

	record := []string{"15009", "AL", "4"}
	first, ok1 := b.Map(record)
	second, ok2 := b.Map(record)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}
