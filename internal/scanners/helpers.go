package scanners

import (
	"strings"
	"time"

	"github.com/freightdoom/engine/internal/models"
)

// chapterForms maps every spelling we see in filings to a chapter. Chapter
// 13 is checked before 11 because "CHAPTER XIII" contains "CHAPTER XI".
var chapterForms = []struct {
	chapter models.Chapter
	forms   []string
}{
	{models.Chapter7, []string{"CHAPTER 7", "CH. 7", "CH 7", "CH.7", "CHAPTER VII"}},
	{models.Chapter13, []string{"CHAPTER 13", "CH. 13", "CH 13", "CH.13", "CHAPTER XIII"}},
	{models.Chapter11, []string{"CHAPTER 11", "CH. 11", "CH 11", "CH.11", "CHAPTER XI"}},
}

// DetectChapter finds the bankruptcy chapter mentioned in text, or Unknown.
// Court clerks and securities lawyers abbreviate inconsistently, so this is
// a plain uppercase substring sweep over the known spellings.
func DetectChapter(text string) models.Chapter {
	upper := strings.ToUpper(text)
	for _, cf := range chapterForms {
		for _, form := range cf.forms {
			if strings.Contains(upper, form) {
				return cf.chapter
			}
		}
	}
	return models.ChapterUnknown
}

var dotPrefixes = []string{"USDOT# ", "USDOT #", "USDOT ", "DOT# ", "DOT #", "DOT "}
var mcPrefixes = []string{"MC# ", "MC #", "MC-", "MC "}

// ExtractDotNumber pulls a USDOT number (1-8 digits) out of free text.
// Filings write the prefix half a dozen ways; we take the digits after the
// first prefix that matches.
func ExtractDotNumber(text string) *string {
	return extractNumber(text, dotPrefixes, 8)
}

// ExtractMcNumber pulls an MC number (1-7 digits) out of free text.
func ExtractMcNumber(text string) *string {
	return extractNumber(text, mcPrefixes, 7)
}

func extractNumber(text string, prefixes []string, maxDigits int) *string {
	upper := strings.ToUpper(text)
	for _, prefix := range prefixes {
		idx := strings.Index(upper, prefix)
		if idx < 0 {
			continue
		}
		rest := upper[idx+len(prefix):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end > 0 && end <= maxDigits {
			num := rest[:end]
			return &num
		}
	}
	return nil
}

// filingDateLayouts are the formats that show up in docket text and feed
// metadata. Month-name layouts span three whitespace tokens.
var filingDateLayouts = []string{
	"01/02/2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseFilingDate sweeps the text for anything that parses as a date:
// single tokens first, then 3-word windows for the month-name layouts.
// Best effort only; free text lies about dates all the time.
func ParseFilingDate(text string) *time.Time {
	words := strings.Fields(text)

	for _, word := range words {
		if ts := parseDateCandidate(word); ts != nil {
			return ts
		}
	}
	for i := 0; i+3 <= len(words); i++ {
		if ts := parseDateCandidate(strings.Join(words[i:i+3], " ")); ts != nil {
			return ts
		}
	}
	return nil
}

func parseDateCandidate(candidate string) *time.Time {
	for _, layout := range filingDateLayouts {
		if ts, err := time.Parse(layout, candidate); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}

// parseDateYMD parses the 2006-01-02 dates the EDGAR and CourtListener
// APIs return, as midnight UTC.
func parseDateYMD(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

// parsePubDate parses RSS pubDate stamps (RFC 1123, with or without a
// numeric zone).
func parsePubDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if ts, err := time.Parse(layout, s); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}
