package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/config"
	"github.com/freightdoom/engine/internal/models"
)

// CourtListener is run by a non-profit; the User-Agent tells them who to
// email when our traffic annoys them.
const courtListenerUserAgent = "FreightDoomEngine/1.0 (legal-research@freight-doom.dev; educational-project)"

// clQueries rotate one per sweep, covering both broad phrasings and the
// industry jargon (drayage, intermodal, LTL) that only appears in filings
// about real freight companies.
var clQueries = []string{
	"bankruptcy freight carrier",
	"bankruptcy trucking logistics",
	"chapter 11 freight broker",
	"chapter 7 carrier transportation",
	"bankruptcy motor carrier",
	"insolvency third party logistics",
	"bankruptcy intermodal freight",
	"chapter 11 less than truckload",
	"bankruptcy drayage carrier",
	"chapter 7 freight forwarder",
}

// CourtListenerScanner searches the RECAP docket archive for freight
// bankruptcy filings. RECAP entries are PACER documents resurfaced for
// free, so filings often appear here before opinions exist.
type CourtListenerScanner struct {
	deps     *Deps
	breaker  *circuitbreaker.CircuitBreaker
	client   *http.Client
	interval time.Duration
	baseURL  string
	cursor   atomic.Uint64
}

type clResponse struct {
	Count   int        `json:"count"`
	Results []clResult `json:"results"`
}

type clResult struct {
	ID          int64  `json:"id"`
	CaseName    string `json:"case_name"`
	Snippet     string `json:"snippet"`
	Court       string `json:"court"`
	DateFiled   string `json:"date_filed"`
	AbsoluteURL string `json:"absolute_url"`
}

// NewCourtListenerScanner builds the CourtListener scanner.
func NewCourtListenerScanner(cfg *config.Config, deps *Deps, breaker *circuitbreaker.CircuitBreaker) *CourtListenerScanner {
	return &CourtListenerScanner{
		deps:     deps,
		breaker:  breaker,
		client:   &http.Client{Timeout: 20 * time.Second},
		interval: cfg.CourtListenerPollInterval,
		baseURL:  cfg.CourtListenerBaseURL,
	}
}

func (s *CourtListenerScanner) Source() models.Source { return models.SourceCourtListener }

func (s *CourtListenerScanner) Breaker() *circuitbreaker.CircuitBreaker { return s.breaker }

// Run polls until ctx is cancelled.
func (s *CourtListenerScanner) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"base_url":           s.baseURL,
		"queries":            len(clQueries),
		"poll_interval_secs": int(s.interval.Seconds()),
	}).Info("CourtListener scanner online")
	runLoop(ctx, models.SourceCourtListener, s.interval, s.deps, s.breaker, s.sweep)
}

func (s *CourtListenerScanner) sweep(ctx context.Context) {
	idx := int((s.cursor.Add(1) - 1) % uint64(len(clQueries)))
	query := clQueries[idx]

	// type=r searches RECAP dockets; filings show up there first.
	today := time.Now().UTC().Format("2006-01-02")
	searchURL := fmt.Sprintf(
		"%s/search/?q=%s&type=r&filed_after=%s&order_by=dateFiled+desc&format=json",
		s.baseURL, url.QueryEscape(query), today,
	)

	log.WithFields(log.Fields{
		"query": query,
		"date":  today,
	}).Debug("CourtListener searching RECAP dockets")

	req, err := newRequest(ctx, searchURL, courtListenerUserAgent)
	if err != nil {
		log.WithError(err).Debug("CourtListener request build failed")
		return
	}
	body, ok := fetch(s.client, s.breaker, s.deps.Metrics, models.SourceCourtListener, req)
	if !ok {
		return
	}

	var result clResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.WithError(err).Debug("CourtListener JSON parse failed, skipping cycle")
		return
	}

	if result.Count > 0 {
		log.WithFields(log.Fields{
			"count": result.Count,
			"query": query,
		}).Debug("CourtListener search returned results")
	}

	newEvents := 0
	for _, r := range result.Results {
		if s.processResult(r) {
			newEvents++
		}
	}
	if newEvents > 0 {
		log.WithFields(log.Fields{
			"new_events": newEvents,
			"query":      query,
		}).Info("CourtListener sweep complete, new cases detected")
	}
}

func (s *CourtListenerScanner) processResult(r clResult) bool {
	combined := r.CaseName + " " + r.Snippet + " " + r.Court

	if !s.deps.Classifier.QuickCheck(combined) {
		return false
	}
	result := s.deps.Classifier.Scan(combined)
	if result.Confidence < s.deps.MinConfidence {
		return false
	}

	key := fmt.Sprintf("cl:%d:%s", r.ID, r.CaseName)
	if s.deps.suppress(key) {
		log.WithField("case", r.CaseName).Debug("CourtListener duplicate case suppressed")
		return false
	}

	company := "Unknown Case"
	if r.CaseName != "" {
		company = extractCompanyFromCaseName(r.CaseName)
	}

	event := models.NewEvent(company, models.SourceCourtListener, result.Confidence)
	if r.Court != "" {
		event.Court = models.StrPtr(r.Court)
	}
	event.Chapter = DetectChapter(combined)
	event.Classification = result.Classification
	if r.AbsoluteURL != "" {
		event.SourceURL = models.StrPtr("https://www.courtlistener.com" + r.AbsoluteURL)
	}
	event.FilingDate = parseDateYMD(r.DateFiled)
	event.DotNumber = ExtractDotNumber(combined)
	event.McNumber = ExtractMcNumber(combined)

	if !s.deps.emit(event) {
		return false
	}
	log.WithFields(log.Fields{
		"case":       r.CaseName,
		"court":      r.Court,
		"confidence": fmt.Sprintf("%.1f%%", result.Confidence*100),
		"keywords":   len(result.MatchedKeywords),
	}).Info("CourtListener: bankruptcy case detected")
	return true
}

// extractCompanyFromCaseName digs the debtor out of a case caption.
// Captions follow a handful of patterns ("In re: X", "X, Debtor",
// "Creditor v. X"); anything unrecognized comes back whole, because a
// messy name beats no name.
func extractCompanyFromCaseName(caseName string) string {
	lower := strings.ToLower(caseName)

	for _, prefix := range []string{"in re:", "in re ", "in the matter of"} {
		if idx := strings.Index(lower, prefix); idx >= 0 {
			return strings.TrimSpace(caseName[idx+len(prefix):])
		}
	}
	if idx := strings.Index(lower, ", debtor"); idx >= 0 {
		return strings.TrimSpace(caseName[:idx])
	}
	// In bankruptcy captions the first party is usually the debtor.
	for _, sep := range []string{" v. ", " vs. "} {
		if idx := strings.Index(lower, sep); idx >= 0 {
			return strings.TrimSpace(caseName[:idx])
		}
	}
	return strings.TrimSpace(caseName)
}
