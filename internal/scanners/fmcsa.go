package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/config"
	"github.com/freightdoom/engine/internal/models"
)

const fmcsaUserAgent = "FreightDoomEngine/1.0 (carrier-monitoring; educational-project)"

// fmcsaBatchSize carriers are probed per sweep, round-robin over the
// watchlist, so the registry never sees the whole list at once.
const fmcsaBatchSize = 3

// fmcsaCarrier is one watchlist entry. The name is a fallback for logging
// and for responses that omit the legal name.
type fmcsaCarrier struct {
	Dot  string
	Name string
}

// monitoredCarriers is the default watchlist: real USDOT numbers of major
// carriers and brokers. A production deployment would load thousands of
// these from a database.
var monitoredCarriers = []fmcsaCarrier{
	{"2247208", "XPO Logistics"},
	{"2222636", "Echo Global Logistics"},
	{"2209198", "Coyote Logistics"},
	{"1018962", "Werner Enterprises"},
	{"125100", "JB Hunt Transport"},
	{"69643", "Schneider National"},
	{"122098", "Heartland Express"},
	{"298894", "Swift Transportation"},
	{"1065988", "USA Truck"},
	{"2239788", "Convoy Inc"},
	{"624957", "Old Dominion Freight Line"},
	{"2016493", "TForce Freight"},
	{"354113", "ABF Freight System"},
	{"584586", "Estes Express Lines"},
	{"259823", "Southeastern Freight Lines"},
}

// deadStatuses are authority states that indicate the carrier can no
// longer operate.
var deadStatuses = []string{"INACTIVE", "REVOKED", "OUT OF SERVICE", "NOT AUTHORIZED"}

// FmcsaScanner watches carrier registrations in the FMCSA QCMobile API for
// death signals: revoked or inactive authority, an out-of-service date, or
// a required-but-missing insurance filing. Confidence is assigned by
// policy, not by the classifier — the registry record is structured enough
// that keyword scoring would only add noise.
type FmcsaScanner struct {
	deps      *Deps
	breaker   *circuitbreaker.CircuitBreaker
	client    *http.Client
	interval  time.Duration
	baseURL   string
	watchlist []fmcsaCarrier
	cursor    atomic.Uint64
}

// qcMobileResponse is the QCMobile envelope: carrier data nested under
// content.carrier.
type qcMobileResponse struct {
	Content struct {
		Carrier *qcMobileCarrier `json:"carrier"`
	} `json:"content"`
}

type qcMobileCarrier struct {
	LegalName        string `json:"legalName"`
	DbaName          string `json:"dbaName"`
	McNumber         string `json:"mcNumber"`
	CarrierOperation string `json:"carrierOperation"`
	StatusCode       string `json:"statusCode"`
	OosDate          string `json:"oosDate"`
	InsuranceReq     string `json:"bipdInsuranceRequired"`
	InsuranceOnFile  string `json:"bipdInsuranceOnFile"`
	PhyCity          string `json:"phyCity"`
	PhyState         string `json:"phyState"`
}

// NewFmcsaScanner builds the FMCSA scanner with the default watchlist.
func NewFmcsaScanner(cfg *config.Config, deps *Deps, breaker *circuitbreaker.CircuitBreaker) *FmcsaScanner {
	return &FmcsaScanner{
		deps:      deps,
		breaker:   breaker,
		client:    &http.Client{Timeout: 15 * time.Second},
		interval:  cfg.FmcsaPollInterval,
		baseURL:   cfg.FmcsaBaseURL,
		watchlist: monitoredCarriers,
	}
}

func (s *FmcsaScanner) Source() models.Source { return models.SourceFmcsa }

func (s *FmcsaScanner) Breaker() *circuitbreaker.CircuitBreaker { return s.breaker }

// Run polls until ctx is cancelled.
func (s *FmcsaScanner) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"monitored_carriers": len(s.watchlist),
		"base_url":           s.baseURL,
		"poll_interval_secs": int(s.interval.Seconds()),
	}).Info("FMCSA scanner online")
	runLoop(ctx, models.SourceFmcsa, s.interval, s.deps, s.breaker, s.sweep)
}

func (s *FmcsaScanner) sweep(ctx context.Context) {
	start := s.cursor.Add(fmcsaBatchSize) - fmcsaBatchSize
	for i := 0; i < fmcsaBatchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		carrier := s.watchlist[(start+uint64(i))%uint64(len(s.watchlist))]
		s.checkCarrier(ctx, carrier)
	}
}

func (s *FmcsaScanner) checkCarrier(ctx context.Context, carrier fmcsaCarrier) {
	req, err := newRequest(ctx, s.baseURL+"/"+carrier.Dot, fmcsaUserAgent)
	if err != nil {
		log.WithError(err).WithField("dot", carrier.Dot).Debug("FMCSA request build failed")
		return
	}
	req.Header.Set("Accept", "application/json")

	body, ok := fetch(s.client, s.breaker, s.deps.Metrics, models.SourceFmcsa, req)
	if !ok {
		return
	}

	var qc qcMobileResponse
	if err := json.Unmarshal(body, &qc); err != nil {
		// Non-JSON responses still occasionally carry the status in plain
		// text; the raw-text path catches those.
		s.scanRawCarrier(string(body), carrier)
		return
	}
	record := qc.Content.Carrier
	if record == nil {
		log.WithField("dot", carrier.Dot).Debug("FMCSA response has no carrier record")
		return
	}

	name := record.LegalName
	if name == "" {
		name = record.DbaName
	}
	if name == "" {
		name = carrier.Name
	}

	status := strings.ToUpper(record.StatusCode)

	statusDead := false
	for _, dead := range deadStatuses {
		if status == dead {
			statusDead = true
			break
		}
	}
	hasOosDate := record.OosDate != ""
	insuranceLapsed := strings.ToUpper(record.InsuranceReq) == "Y" &&
		(strings.ToUpper(record.InsuranceOnFile) == "N" || record.InsuranceOnFile == "")

	if !statusDead && !hasOosDate && !insuranceLapsed {
		log.WithFields(log.Fields{
			"dot":     carrier.Dot,
			"carrier": name,
			"status":  status,
		}).Debug("FMCSA carrier healthy")
		return
	}

	// Dedup at the status grain, before scoring: the same dead status must
	// not re-fire every sweep, but a further status change should.
	key := fmt.Sprintf("fmcsa:%s:%s", carrier.Dot, status)
	if s.deps.suppress(key) {
		log.WithField("dot", carrier.Dot).Debug("FMCSA status change already reported")
		return
	}

	confidence := fmcsaConfidence(status, statusDead, insuranceLapsed)
	if confidence < s.deps.MinConfidence {
		return
	}

	annotation := "Authority Change"
	if insuranceLapsed {
		annotation = "INSURANCE LAPSED"
	}

	event := models.NewEvent(name, models.SourceFmcsa, confidence)
	event.DotNumber = models.StrPtr(carrier.Dot)
	if record.McNumber != "" {
		event.McNumber = models.StrPtr(record.McNumber)
	}
	event.Classification = classifyCarrierOperation(record.CarrierOperation)
	event.Court = models.StrPtr(fmt.Sprintf("FMCSA — Status: %s | %s", status, annotation))
	event.SourceURL = models.StrPtr(saferSnapshotURL(carrier.Dot))

	if s.deps.emit(event) {
		log.WithFields(log.Fields{
			"dot":        carrier.Dot,
			"carrier":    name,
			"status":     status,
			"city":       record.PhyCity,
			"state":      record.PhyState,
			"confidence": fmt.Sprintf("%.1f%%", confidence*100),
		}).Info("FMCSA: carrier status change detected")
	}
}

// fmcsaConfidence is the policy table: structured registry statuses carry
// fixed scores instead of classifier output.
func fmcsaConfidence(status string, statusDead, insuranceLapsed bool) float64 {
	if statusDead {
		switch status {
		case "REVOKED":
			return 0.90
		case "OUT OF SERVICE":
			return 0.85
		case "NOT AUTHORIZED":
			return 0.85
		case "INACTIVE":
			return 0.80
		default:
			return 0.75
		}
	}
	if insuranceLapsed {
		return 0.70
	}
	return 0.65
}

// scanRawCarrier is the fallback for non-JSON responses: the classifier
// gates the text, and a death-status substring must still be present.
func (s *FmcsaScanner) scanRawCarrier(body string, carrier fmcsaCarrier) {
	if !s.deps.Classifier.QuickCheck(body) {
		return
	}
	result := s.deps.Classifier.Scan(body)
	if result.Confidence < s.deps.MinConfidence {
		return
	}

	upper := strings.ToUpper(body)
	hasDeathSignal := false
	for _, dead := range deadStatuses {
		if strings.Contains(upper, dead) {
			hasDeathSignal = true
			break
		}
	}
	if !hasDeathSignal {
		return
	}

	if s.deps.suppress("fmcsa:raw:" + carrier.Dot) {
		return
	}

	event := models.NewEvent(carrier.Name, models.SourceFmcsa, result.Confidence)
	event.DotNumber = models.StrPtr(carrier.Dot)
	event.Classification = result.Classification
	event.Court = models.StrPtr("FMCSA (raw text parse)")
	event.SourceURL = models.StrPtr(saferSnapshotURL(carrier.Dot))

	if s.deps.emit(event) {
		log.WithFields(log.Fields{
			"dot":     carrier.Dot,
			"carrier": carrier.Name,
		}).Warn("FMCSA: status change parsed from non-JSON response")
	}
}

// classifyCarrierOperation maps the registry's operation field to a
// company classification. Most registered entities are carriers, so that
// is the default.
func classifyCarrierOperation(operation string) models.Classification {
	upper := strings.ToUpper(operation)
	switch {
	case strings.Contains(upper, "BROKER"):
		return models.Broker
	case strings.Contains(upper, "FORWARDER"):
		return models.FreightForwarder
	default:
		return models.Carrier
	}
}

func saferSnapshotURL(dot string) string {
	return "https://safer.fmcsa.dot.gov/query.asp?searchtype=ANY&query_type=queryCarrierSnapshot&query_param=USDOT&query_string=" + dot
}
