// Package scanners implements the four source pollers: PACER court RSS
// feeds, SEC EDGAR full-text search, the FMCSA carrier registry, and
// CourtListener's RECAP search. Each scanner shares the same skeleton —
// breaker-gated sweep, classify, dedup, emit — and differs only in how it
// fetches and parses its source.
package scanners

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/dedup"
	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/models"
	"github.com/freightdoom/engine/internal/textscan"
)

// Scanner is one polling source. Run blocks until ctx is cancelled.
type Scanner interface {
	Source() models.Source
	Breaker() *circuitbreaker.CircuitBreaker
	Run(ctx context.Context)
}

// Deps are the pipeline components every scanner shares: the classifier,
// the dedup engine, the bus producer side, and the metrics collector.
type Deps struct {
	Classifier    *textscan.Scanner
	Dedup         *dedup.Engine
	Bus           *events.Bus
	Metrics       *metrics.Collector
	MinConfidence float64
}

// emit hands an event to the bus. A full or closed bus drops the event;
// that is the documented availability trade, so we log and move on.
func (d *Deps) emit(event *models.Event) bool {
	if err := d.Bus.TrySend(event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"source":  event.Source.String(),
			"company": event.CompanyName,
		}).Error("event dropped, bus unavailable")
		return false
	}
	d.Metrics.IncrementDetected(event.Source, event.Confidence)
	return true
}

// suppress reports whether key was already seen recently. The metrics
// counter only moves on confirmed duplicates.
func (d *Deps) suppress(key string) bool {
	if d.Dedup.CheckAndInsert(key) {
		return false
	}
	d.Metrics.IncrementDeduplicated()
	return true
}

// runLoop drives one scanner: one sweep per interval, starting a full
// interval after launch, until ctx is cancelled. The circuit breaker gates
// every sweep; while it is open the cadence continues but no requests go
// out.
func runLoop(ctx context.Context, src models.Source, interval time.Duration, deps *Deps, breaker *circuitbreaker.CircuitBreaker, sweep func(context.Context)) {
	deps.Metrics.SetRunning(src, true)
	defer deps.Metrics.SetRunning(src, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithField("source", src.String()).Info("scanner shutting down")
			return
		case <-ticker.C:
		}

		if breaker.Allow() {
			sweep(ctx)
			deps.Metrics.StampPoll(src)
		} else {
			log.WithField("source", src.String()).Debug("circuit breaker open, sweep skipped")
		}
	}
}

// newRequest builds a GET with the operator-identifying User-Agent the
// public sources ask for (EDGAR mandates it by published policy).
func newRequest(ctx context.Context, url, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// fetch performs one request and applies the shared error taxonomy:
// transport errors and HTTP 429 count against the breaker, any other
// non-2xx response is benign and only logged at debug. The body is
// returned for 2xx responses only.
func fetch(client *http.Client, breaker *circuitbreaker.CircuitBreaker, m *metrics.Collector, src models.Source, req *http.Request) ([]byte, bool) {
	resp, err := client.Do(req)
	if err != nil {
		breaker.RecordFailure()
		m.IncrementScannerError(src)
		log.WithError(err).WithFields(log.Fields{
			"source": src.String(),
			"host":   req.URL.Host,
		}).Warn("request failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		breaker.RecordFailure()
		m.IncrementScannerError(src)
		log.WithFields(log.Fields{
			"source": src.String(),
			"host":   req.URL.Host,
		}).Warn("rate limited (HTTP 429), backing off")
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{
			"source": src.String(),
			"status": resp.StatusCode,
		}).Debug("non-success response, skipping")
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		breaker.RecordFailure()
		m.IncrementScannerError(src)
		log.WithError(err).WithField("source", src.String()).Warn("failed to read response body")
		return nil, false
	}

	breaker.RecordSuccess()
	return body, true
}
