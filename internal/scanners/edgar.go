package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/config"
	"github.com/freightdoom/engine/internal/models"
)

// EDGAR policy requires a descriptive User-Agent with contact information;
// without one they throttle hard.
const edgarUserAgent = "FreightDoomEngine/1.0 (bankruptcy-tracker@research.dev; educational-project)"

// edgarQueries rotate one per sweep. Each targets a different intersection
// of bankruptcy and logistics language; together they cover filings a
// single phrasing would miss.
var edgarQueries = []string{
	"bankruptcy freight carrier",
	"bankruptcy trucking company",
	"chapter 11 logistics",
	"chapter 7 freight",
	"chapter 11 carrier transportation",
	"bankruptcy broker freight",
	"insolvency logistics carrier",
	"bankruptcy 3PL warehouse",
	"chapter 11 transportation services",
	"going concern motor carrier",
}

// EdgarScanner polls the SEC EDGAR full-text search API (EFTS) for today's
// filings matching the rotating queries.
type EdgarScanner struct {
	deps      *Deps
	breaker   *circuitbreaker.CircuitBreaker
	client    *http.Client
	interval  time.Duration
	searchURL string
	cursor    atomic.Uint64
}

// edgarResponse mirrors the Elasticsearch-shaped EFTS payload, trimmed to
// the fields we read.
type edgarResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source edgarFiling `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type edgarFiling struct {
	EntityName      string `json:"entity_name"`
	FileDate        string `json:"file_date"`
	FileDescription string `json:"file_description"`
	FileType        string `json:"file_type"`
}

// NewEdgarScanner builds the EDGAR scanner.
func NewEdgarScanner(cfg *config.Config, deps *Deps, breaker *circuitbreaker.CircuitBreaker) *EdgarScanner {
	return &EdgarScanner{
		deps:      deps,
		breaker:   breaker,
		client:    &http.Client{Timeout: 20 * time.Second},
		interval:  cfg.EdgarPollInterval,
		searchURL: cfg.EdgarSearchURL,
	}
}

func (s *EdgarScanner) Source() models.Source { return models.SourceEdgar }

func (s *EdgarScanner) Breaker() *circuitbreaker.CircuitBreaker { return s.breaker }

// Run polls until ctx is cancelled.
func (s *EdgarScanner) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"search_url":         s.searchURL,
		"queries":            len(edgarQueries),
		"poll_interval_secs": int(s.interval.Seconds()),
	}).Info("EDGAR scanner online")
	runLoop(ctx, models.SourceEdgar, s.interval, s.deps, s.breaker, s.sweep)
}

func (s *EdgarScanner) sweep(ctx context.Context) {
	idx := int((s.cursor.Add(1) - 1) % uint64(len(edgarQueries)))
	query := edgarQueries[idx]

	// Today's filings only; freshness is the whole point.
	today := time.Now().UTC().Format("2006-01-02")
	searchURL := fmt.Sprintf(
		"%s?q=%s&dateRange=custom&startdt=%s&enddt=%s&forms=8-K,10-K,10-Q&from=0&size=40",
		s.searchURL, url.QueryEscape(query), today, today,
	)

	log.WithFields(log.Fields{
		"query": query,
		"date":  today,
	}).Debug("EDGAR executing search query")

	req, err := newRequest(ctx, searchURL, edgarUserAgent)
	if err != nil {
		log.WithError(err).Debug("EDGAR request build failed")
		return
	}
	body, ok := fetch(s.client, s.breaker, s.deps.Metrics, models.SourceEdgar, req)
	if !ok {
		return
	}

	var result edgarResponse
	if err := json.Unmarshal(body, &result); err != nil {
		// EDGAR occasionally serves HTML error pages where JSON should be.
		if s.deps.Classifier.QuickCheck(string(body)) {
			log.Debug("EDGAR non-JSON response mentions freight, skipping anyway")
		} else {
			log.WithError(err).Debug("EDGAR JSON parse failed, skipping cycle")
		}
		return
	}

	if result.Hits.Total.Value > 0 {
		log.WithFields(log.Fields{
			"total_hits": result.Hits.Total.Value,
			"query":      query,
		}).Debug("EDGAR search returned hits")
	}

	newEvents := 0
	for _, hit := range result.Hits.Hits {
		if s.processFiling(hit.Source) {
			newEvents++
		}
	}
	if newEvents > 0 {
		log.WithFields(log.Fields{
			"new_events": newEvents,
			"query":      query,
		}).Info("EDGAR sweep complete, new filings detected")
	}
}

func (s *EdgarScanner) processFiling(filing edgarFiling) bool {
	combined := filing.EntityName + " " + filing.FileDescription + " " + filing.FileType

	if !s.deps.Classifier.QuickCheck(combined) {
		return false
	}
	result := s.deps.Classifier.Scan(combined)
	if result.Confidence < s.deps.MinConfidence {
		return false
	}

	// Accession numbers are not always present in search results, so the
	// dedup grain is entity plus form type.
	key := fmt.Sprintf("edgar:%s:%s", filing.EntityName, filing.FileType)
	if s.deps.suppress(key) {
		log.WithField("entity", filing.EntityName).Debug("EDGAR duplicate filing suppressed")
		return false
	}

	company := filing.EntityName
	if company == "" {
		company = "Unknown Entity"
	}

	event := models.NewEvent(company, models.SourceEdgar, result.Confidence)
	event.Court = models.StrPtr("SEC EDGAR")
	event.Chapter = DetectChapter(combined)
	event.Classification = result.Classification
	event.SourceURL = models.StrPtr(fmt.Sprintf(
		"https://www.sec.gov/cgi-bin/browse-edgar?company=%s&CIK=&type=%s&dateb=&owner=include&count=40&search_text=&action=getcompany",
		url.QueryEscape(filing.EntityName), url.QueryEscape(filing.FileType),
	))
	event.FilingDate = parseDateYMD(filing.FileDate)
	event.DotNumber = ExtractDotNumber(combined)
	event.McNumber = ExtractMcNumber(combined)

	if !s.deps.emit(event) {
		return false
	}
	log.WithFields(log.Fields{
		"entity":     filing.EntityName,
		"file_type":  filing.FileType,
		"confidence": fmt.Sprintf("%.1f%%", result.Confidence*100),
	}).Info("EDGAR: SEC filing detected")
	return true
}
