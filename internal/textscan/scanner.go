// Package textscan classifies raw filing text. A combined Aho-Corasick
// automaton finds freight and bankruptcy keywords in a single pass, and four
// narrower automatons vote on the company type. Scoring is additive over
// keyword variety, match density, cross-domain presence and high-signal
// bonuses, capped at 1.0.
package textscan

import (
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/freightdoom/engine/internal/models"
)

// ScanResult is the verdict for one piece of text.
type ScanResult struct {
	Confidence            float64
	FreightKeywordHits    int
	BankruptcyKeywordHits int
	TotalMatches          int
	Classification        models.Classification
	MatchedKeywords       []string
}

// Scanner holds the compiled automatons. Construction is expensive (five
// DFA builds); callers share one instance across goroutines. All methods
// are safe for concurrent use.
type Scanner struct {
	combined  ahocorasick.AhoCorasick
	carrier   ahocorasick.AhoCorasick
	broker    ahocorasick.AhoCorasick
	tpl       ahocorasick.AhoCorasick
	forwarder ahocorasick.AhoCorasick
}

// New compiles the five automatons from the built-in lexicons.
// StandardMatch is required for overlapping iteration on the combined
// automaton.
func New() *Scanner {
	return &Scanner{
		combined:  buildAutomaton(freightKeywords),
		carrier:   buildAutomaton(carrierKeywords),
		broker:    buildAutomaton(brokerKeywords),
		tpl:       buildAutomaton(tplKeywords),
		forwarder: buildAutomaton(forwarderKeywords),
	}
}

func buildAutomaton(patterns []string) ahocorasick.AhoCorasick {
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            ahocorasick.StandardMatch,
		DFA:                  true,
	})
	return builder.Build(patterns)
}

// QuickCheck reports whether text contains any freight or bankruptcy marker
// at all. It is a plain substring sweep used to skip the automaton pass for
// the vast majority of poll payloads, which mention neither domain.
func (s *Scanner) QuickCheck(text string) bool {
	for _, marker := range quickMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Scan runs the full pipeline on one text: quick gate, overlapping keyword
// sweep, confidence scoring and company-type classification.
func (s *Scanner) Scan(text string) ScanResult {
	if !s.QuickCheck(text) {
		return ScanResult{Classification: models.Unclassified}
	}

	totalMatches := 0
	seen := make(map[string]struct{})
	iter := s.combined.IterOverlapping(text)
	for next := iter.Next(); next != nil; next = iter.Next() {
		totalMatches++
		seen[strings.ToLower(text[next.Start():next.End()])] = struct{}{}
	}
	if totalMatches == 0 {
		return ScanResult{Classification: models.Unclassified}
	}

	matched := make([]string, 0, len(seen))
	for kw := range seen {
		matched = append(matched, kw)
	}
	sort.Strings(matched)

	bankruptcyHits := 0
	for _, kw := range matched {
		if containsAny(kw, bankruptcyTerms) {
			bankruptcyHits++
		}
	}
	freightHits := totalMatches - bankruptcyHits

	confidence := scoreConfidence(text, totalMatches, matched, freightHits, bankruptcyHits)

	return ScanResult{
		Confidence:            confidence,
		FreightKeywordHits:    freightHits,
		BankruptcyKeywordHits: bankruptcyHits,
		TotalMatches:          totalMatches,
		Classification:        s.classify(text),
		MatchedKeywords:       matched,
	}
}

// BatchScan scans several texts concurrently and returns results in input
// order.
func (s *Scanner) BatchScan(texts []string) []ScanResult {
	results := make([]ScanResult, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			results[i] = s.Scan(text)
		}(i, text)
	}
	wg.Wait()
	return results
}

// scoreConfidence is the additive model:
//
//	variety      up to 0.4  share of the lexicon seen, x4
//	density      up to 0.3  matches per word, x30
//	cross-domain      0.2   freight AND bankruptcy hits present
//	high-signal  up to 0.1  0.05 per matched keyword carrying a near-certain term
func scoreConfidence(text string, totalMatches int, matched []string, freightHits, bankruptcyHits int) float64 {
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}

	variety := float64(len(matched)) / float64(len(freightKeywords)) * 4.0
	if variety > 0.4 {
		variety = 0.4
	}

	density := float64(totalMatches) / float64(words) * 30.0
	if density > 0.3 {
		density = 0.3
	}

	confidence := variety + density

	if freightHits > 0 && bankruptcyHits > 0 {
		confidence += 0.2
	}

	// The bonus keys off the matched set, not the raw text: a high-signal
	// phrase that never made it into the lexicon sweep earns nothing.
	highSignal := 0
	for _, kw := range matched {
		if containsAny(kw, highSignalTerms) {
			highSignal++
		}
	}
	bonus := 0.05 * float64(highSignal)
	if bonus > 0.1 {
		bonus = 0.1
	}
	confidence += bonus

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// classify counts narrow-lexicon occurrences and picks the strongest bucket.
// Ties resolve in declaration order: carrier beats broker beats 3PL beats
// forwarder.
func (s *Scanner) classify(text string) models.Classification {
	counts := []struct {
		class models.Classification
		hits  int
	}{
		{models.Carrier, len(s.carrier.FindAll(text))},
		{models.Broker, len(s.broker.FindAll(text))},
		{models.ThirdPartyLogistics, len(s.tpl.FindAll(text))},
		{models.FreightForwarder, len(s.forwarder.FindAll(text))},
	}

	best := models.Unclassified
	bestHits := 0
	for _, c := range counts {
		if c.hits > bestHits {
			best = c.class
			bestHits = c.hits
		}
	}
	return best
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
