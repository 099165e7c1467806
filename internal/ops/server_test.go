package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/dedup"
	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/models"
	"github.com/freightdoom/engine/internal/scanners"
)

type stubPoller struct {
	source  models.Source
	breaker *circuitbreaker.CircuitBreaker
}

func (p *stubPoller) Source() models.Source                   { return p.source }
func (p *stubPoller) Breaker() *circuitbreaker.CircuitBreaker { return p.breaker }
func (p *stubPoller) Run(ctx context.Context)                 { <-ctx.Done() }

func startTestServer(t *testing.T) (*Server, *metrics.Collector, *events.Tap, string, func()) {
	t.Helper()

	collector := metrics.NewCollector(nil)
	dd := dedup.New(100, 0.01, 16, time.Hour)
	tap := events.NewTap()
	pollers := []scanners.Scanner{
		&stubPoller{models.SourcePacer, circuitbreaker.New("pacer", 5, time.Minute, 2)},
		&stubPoller{models.SourceEdgar, circuitbreaker.New("edgar", 5, time.Minute, 2)},
	}

	srv := New(collector, dd, tap, metrics.NewPromMetrics(), pollers, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("ops server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}

	base := fmt.Sprintf("http://%s", srv.Addr().String())
	return srv, collector, tap, base, cancel
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	_, collector, _, base, stop := startTestServer(t)
	defer stop()

	collector.SetRunning(models.SourcePacer, true)
	collector.StampPoll(models.SourcePacer)

	var resp struct {
		Status   string                 `json:"status"`
		Scanners []models.ScannerHealth `json:"scanners"`
	}
	getJSON(t, base+"/healthz", &resp)

	assert.Equal(t, "operational", resp.Status)
	require.Len(t, resp.Scanners, 2)
	assert.True(t, resp.Scanners[0].IsRunning)
	assert.NotNil(t, resp.Scanners[0].LastPoll)
	assert.Equal(t, "CLOSED", resp.Scanners[0].CircuitBreakerState)
	assert.False(t, resp.Scanners[1].IsRunning)
}

func TestStatsEndpoint(t *testing.T) {
	_, collector, _, base, stop := startTestServer(t)
	defer stop()

	collector.IncrementDetected(models.SourcePacer, 0.8)
	collector.IncrementPublished()

	var snap metrics.Snapshot
	getJSON(t, base+"/stats", &snap)

	assert.Equal(t, uint64(1), snap.TotalEventsDetected)
	assert.Equal(t, uint64(1), snap.TotalEventsPublished)
	assert.Equal(t, uint64(1), snap.PacerEvents)
	assert.Equal(t, "operational", snap.Status)
}

func TestBreakersEndpoint(t *testing.T) {
	_, _, _, base, stop := startTestServer(t)
	defer stop()

	var snaps []circuitbreaker.Snapshot
	getJSON(t, base+"/breakers", &snaps)

	require.Len(t, snaps, 2)
	assert.Equal(t, "pacer", snaps[0].Name)
	assert.Equal(t, "CLOSED", snaps[0].State)
}

func TestDedupEndpoint(t *testing.T) {
	_, _, _, base, stop := startTestServer(t)
	defer stop()

	var snap dedup.Snapshot
	getJSON(t, base+"/dedup", &snap)
	assert.Equal(t, uint64(0), snap.TotalChecks)
}

func TestPrometheusEndpoint(t *testing.T) {
	_, _, _, base, stop := startTestServer(t)
	defer stop()

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	_, _, tap, base, stop := startTestServer(t)
	defer stop()

	wsURL := "ws" + base[len("http"):] + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered during the upgrade handler; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for tap.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sent := models.NewEvent("Streamed Freight Inc", models.SourcePacer, 0.9)
	tap.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "Streamed Freight Inc", got.CompanyName)
}
