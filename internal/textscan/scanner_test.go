package textscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdoom/engine/internal/models"
)

const carrierFilingText = "XYZ Trucking Company, a motor carrier with USDOT number 12345, " +
	"has filed for Chapter 11 bankruptcy protection. The freight carrier operated a fleet " +
	"of 200 trucks and employed 500 CDL drivers."

func TestScanCarrierBankruptcyFiling(t *testing.T) {
	s := New()
	result := s.Scan(carrierFilingText)

	assert.Greater(t, result.Confidence, 0.5)
	assert.Equal(t, models.Carrier, result.Classification)
	assert.Greater(t, result.BankruptcyKeywordHits, 0)
	assert.Greater(t, result.FreightKeywordHits, 0)
	assert.Contains(t, result.MatchedKeywords, "motor carrier")
	assert.Contains(t, result.MatchedKeywords, "chapter 11")
}

func TestScanIrrelevantText(t *testing.T) {
	s := New()
	result := s.Scan("The cat sat on the mat")

	assert.Zero(t, result.Confidence)
	assert.Zero(t, result.TotalMatches)
	assert.Equal(t, models.Unclassified, result.Classification)
	assert.Empty(t, result.MatchedKeywords)
}

func TestScanEmptyText(t *testing.T) {
	s := New()
	result := s.Scan("")

	assert.Zero(t, result.Confidence)
	assert.Equal(t, models.Unclassified, result.Classification)
}

// A marker word can pass the quick gate while the full lexicon finds
// nothing; the result must still be all zeroes.
func TestScanMarkerWithoutLexiconHit(t *testing.T) {
	s := New()
	require.True(t, s.QuickCheck("Truck stop diner menu"))

	result := s.Scan("Truck stop diner menu")
	assert.Zero(t, result.TotalMatches)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, models.Unclassified, result.Classification)
}

func TestScanCountsOverlappingMatches(t *testing.T) {
	s := New()
	result := s.Scan("freight bankruptcy")

	// "bankruptcy" also contains "bankrupt", so the overlapping sweep
	// reports three matches over two words.
	assert.Equal(t, 3, result.TotalMatches)
	assert.Equal(t, []string{"bankrupt", "bankruptcy", "freight"}, result.MatchedKeywords)
	assert.Equal(t, 2, result.BankruptcyKeywordHits)
	assert.Equal(t, 1, result.FreightKeywordHits)
}

func TestConfidenceFormula(t *testing.T) {
	s := New()

	// "bankruptcy" alone: two unique keywords (bankrupt, bankruptcy),
	// density capped, no freight hit so no cross-domain bonus.
	result := s.Scan("bankruptcy")
	expected := 2.0/float64(len(freightKeywords))*4.0 + 0.3
	assert.InDelta(t, expected, result.Confidence, 1e-9)
	assert.Zero(t, result.FreightKeywordHits)
}

// "trucking company" is a high-signal term but not a lexicon entry; only
// "trucking" matches, so the high-signal bonus must not fire from the raw
// text alone.
func TestHighSignalBonusRequiresMatchedKeyword(t *testing.T) {
	s := New()

	result := s.Scan("trucking company")
	require.Equal(t, []string{"trucking"}, result.MatchedKeywords)

	expected := 1.0/float64(len(freightKeywords))*4.0 + 0.3
	assert.InDelta(t, expected, result.Confidence, 1e-9)
}

// "motor carrier" is both a lexicon entry and a high-signal term, so the
// matched keyword carries the 0.05 bonus.
func TestHighSignalBonusFromMatchedKeyword(t *testing.T) {
	s := New()

	result := s.Scan("motor carrier")
	require.Contains(t, result.MatchedKeywords, "motor carrier")

	// Two unique keywords (carrier, motor carrier), density capped, plus
	// one high-signal bonus.
	expected := 2.0/float64(len(freightKeywords))*4.0 + 0.3 + 0.05
	assert.InDelta(t, expected, result.Confidence, 1e-9)
}

func TestCrossDomainBonus(t *testing.T) {
	s := New()

	freightOnly := s.Scan("freight")
	both := s.Scan("freight bankruptcy")

	assert.Zero(t, freightOnly.BankruptcyKeywordHits)
	assert.Positive(t, both.BankruptcyKeywordHits)
	assert.Positive(t, both.FreightKeywordHits)
	assert.GreaterOrEqual(t, both.Confidence-freightOnly.Confidence, 0.2)
}

func TestConfidenceCappedAtOne(t *testing.T) {
	s := New()
	result := s.Scan(strings.Join(freightKeywords, " "))
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestConfidenceGrowsWithVariety(t *testing.T) {
	s := New()
	terms := []string{"freight", "trucking", "drayage", "intermodal", "flatbed", "reefer", "tanker", "bobtail"}

	prev := 0.0
	for i := range terms {
		conf := s.Scan(strings.Join(terms[:i+1], " ")).Confidence
		assert.GreaterOrEqual(t, conf, prev, "confidence dropped after adding %q", terms[i])
		prev = conf
	}
}

func TestClassification(t *testing.T) {
	s := New()

	cases := []struct {
		name string
		text string
		want models.Classification
	}{
		{"carrier", "motor carrier fleet with cdl drivers and usdot registration", models.Carrier},
		{"broker", "freight broker with broker authority posting to the load board", models.Broker},
		{"third party logistics", "third party logistics warehouse and distribution center fulfillment", models.ThirdPartyLogistics},
		{"freight forwarder", "international freight forwarder handling customs and ocean freight", models.FreightForwarder},
		{"no vertical terms", "chapter 11 bankruptcy petition", models.Unclassified},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Scan(tc.text).Classification)
		})
	}
}

func TestClassificationTieGoesToCarrier(t *testing.T) {
	s := New()
	// One carrier hit, one broker hit.
	result := s.Scan("carrier brokerage")
	assert.Equal(t, models.Carrier, result.Classification)
}

func TestQuickCheck(t *testing.T) {
	s := New()

	assert.True(t, s.QuickCheck("Chapter 11 filing announced"))
	assert.True(t, s.QuickCheck("regional trucking outfit"))
	assert.True(t, s.QuickCheck("a 3PL provider"))
	assert.True(t, s.QuickCheck("Broker of record"))
	assert.False(t, s.QuickCheck("The cat sat on the mat"))
	assert.False(t, s.QuickCheck(""))
}

// Concatenating more text can only widen the unique-keyword set.
func TestConcatenationKeepsKeywords(t *testing.T) {
	s := New()

	alone := s.Scan(carrierFilingText)
	combined := s.Scan(carrierFilingText + " " + "freight broker bankruptcy")

	assert.GreaterOrEqual(t, len(combined.MatchedKeywords), len(alone.MatchedKeywords))
	for _, kw := range alone.MatchedKeywords {
		assert.Contains(t, combined.MatchedKeywords, kw)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	s := New()
	first := s.Scan(carrierFilingText)
	second := s.Scan(carrierFilingText)
	assert.Equal(t, first, second)
}

func TestBatchScanPreservesOrder(t *testing.T) {
	s := New()
	texts := []string{
		carrierFilingText,
		"The cat sat on the mat",
		"freight bankruptcy",
	}

	results := s.BatchScan(texts)
	require.Len(t, results, len(texts))

	assert.Equal(t, s.Scan(texts[0]), results[0])
	assert.Zero(t, results[1].TotalMatches)
	assert.Equal(t, 3, results[2].TotalMatches)
}

func TestBatchScanEmpty(t *testing.T) {
	s := New()
	assert.Empty(t, s.BatchScan(nil))
}
