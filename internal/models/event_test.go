package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventDefaults(t *testing.T) {
	ev := NewEvent("Acme Freight LLC", SourceEdgar, 0.75)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "Acme Freight LLC", ev.CompanyName)
	assert.Equal(t, ChapterUnknown, ev.Chapter)
	assert.Equal(t, Unclassified, ev.Classification)
	assert.Nil(t, ev.DotNumber)
	assert.Nil(t, ev.FilingDate)
	assert.False(t, ev.DetectedAt.IsZero())
	assert.Equal(t, time.UTC, ev.DetectedAt.Location())

	other := NewEvent("Acme Freight LLC", SourceEdgar, 0.75)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestDedupKeyUsesDisplayForms(t *testing.T) {
	ev := NewEvent("  Acme Freight  ", SourcePacer, 0.9)
	ev.Chapter = Chapter11

	assert.Equal(t, "acme freight:PACER:Chapter 11", ev.DedupKey())
}

func TestDedupKeyDistinguishesSourceAndChapter(t *testing.T) {
	a := NewEvent("Acme", SourcePacer, 0.5)
	b := NewEvent("Acme", SourceFmcsa, 0.5)
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())

	c := NewEvent("Acme", SourcePacer, 0.5)
	c.Chapter = Chapter7
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestEventWireFormat(t *testing.T) {
	filed := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	ev := &Event{
		ID:             "11111111-2222-3333-4444-555555555555",
		CompanyName:    "XYZ Trucking Company",
		DotNumber:      StrPtr("12345"),
		FilingDate:     &filed,
		Court:          StrPtr("Delaware"),
		Chapter:        Chapter11,
		Source:         SourcePacer,
		DetectedAt:     time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		Confidence:     0.9,
		Classification: Carrier,
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "XYZ Trucking Company", decoded["company_name"])
	assert.Equal(t, "12345", decoded["dot_number"])
	assert.Equal(t, "Chapter11", decoded["chapter"])
	assert.Equal(t, "Pacer", decoded["source"])
	assert.Equal(t, "Carrier", decoded["classification"])
	assert.Equal(t, "2024-01-15T00:00:00Z", decoded["filing_date"])
	assert.Equal(t, "2024-01-15T12:30:00Z", decoded["detected_at"])
	assert.InDelta(t, 0.9, decoded["confidence"], 1e-9)

	// Absent optionals serialize as explicit nulls.
	assert.Contains(t, string(raw), `"mc_number":null`)
	assert.Contains(t, string(raw), `"source_url":null`)
}

func TestEventWireRoundTrip(t *testing.T) {
	ev := NewEvent("Coyote Logistics", SourceCourtListener, 0.42)
	ev.Chapter = Chapter7
	ev.Classification = ThirdPartyLogistics

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, SourceCourtListener, back.Source)
	assert.Equal(t, Chapter7, back.Chapter)
	assert.Equal(t, ThirdPartyLogistics, back.Classification)
}

func TestDisplayForms(t *testing.T) {
	assert.Equal(t, "SEC_EDGAR", SourceEdgar.String())
	assert.Equal(t, "COURT_LISTENER", SourceCourtListener.String())
	assert.Equal(t, "court_listener", SourceCourtListener.MetricsKey())
	assert.Equal(t, "3PL", ThirdPartyLogistics.String())
	assert.Equal(t, "Freight Forwarder", FreightForwarder.String())
	assert.Equal(t, "Chapter 13", Chapter13.String())
}

func TestEventString(t *testing.T) {
	ev := NewEvent("Swift Transportation", SourceFmcsa, 0.85)
	ev.Classification = Carrier

	s := ev.String()
	assert.Contains(t, s, "Swift Transportation")
	assert.Contains(t, s, "FMCSA")
	assert.Contains(t, s, "85.0%")
}
