package scanners

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdoom/engine/internal/models"
)

func fmcsaCarrierJSON(status, insuranceReq, insuranceOnFile, oosDate string) string {
	return fmt.Sprintf(`{
  "content": {
    "carrier": {
      "legalName": "CONVOY INC",
      "dbaName": "",
      "mcNumber": "876420",
      "carrierOperation": "A",
      "statusCode": %q,
      "oosDate": %q,
      "bipdInsuranceRequired": %q,
      "bipdInsuranceOnFile": %q,
      "phyCity": "SEATTLE",
      "phyState": "WA"
    }
  }
}`, status, oosDate, insuranceReq, insuranceOnFile)
}

func newFmcsaScanner(serverURL string, watchlist []fmcsaCarrier) (*FmcsaScanner, *Deps, func() ([]*models.Event, bool)) {
	deps, bus := newTestDeps()
	s := &FmcsaScanner{
		deps:      deps,
		breaker:   newTestBreaker(),
		client:    http.DefaultClient,
		interval:  time.Minute,
		baseURL:   serverURL,
		watchlist: watchlist,
	}
	return s, deps, func() ([]*models.Event, bool) { return bus.DrainBatch(10) }
}

func TestFmcsaRevokedCarrierDetected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2239788", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fmcsaCarrierJSON("REVOKED", "Y", "Y", "")))
	}))
	defer server.Close()

	s, deps, drain := newFmcsaScanner(server.URL, nil)
	s.checkCarrier(context.Background(), fmcsaCarrier{"2239788", "Convoy Inc"})

	batch, _ := drain()
	require.Len(t, batch, 1)

	event := batch[0]
	assert.Equal(t, models.SourceFmcsa, event.Source)
	assert.Equal(t, "CONVOY INC", event.CompanyName)
	assert.InDelta(t, 0.90, event.Confidence, 1e-9)
	assert.Equal(t, models.ChapterUnknown, event.Chapter)
	assert.Equal(t, models.Carrier, event.Classification)
	require.NotNil(t, event.DotNumber)
	assert.Equal(t, "2239788", *event.DotNumber)
	require.NotNil(t, event.McNumber)
	assert.Equal(t, "876420", *event.McNumber)
	require.NotNil(t, event.Court)
	assert.Contains(t, *event.Court, "REVOKED")
	require.NotNil(t, event.SourceURL)
	assert.Contains(t, *event.SourceURL, "safer.fmcsa.dot.gov")

	assert.Equal(t, uint64(1), deps.Metrics.Snapshot().FmcsaEvents)
}

func TestFmcsaConfidencePolicy(t *testing.T) {
	cases := []struct {
		status          string
		statusDead      bool
		insuranceLapsed bool
		want            float64
	}{
		{"REVOKED", true, false, 0.90},
		{"OUT OF SERVICE", true, false, 0.85},
		{"NOT AUTHORIZED", true, false, 0.85},
		{"INACTIVE", true, false, 0.80},
		{"SUSPENDED", true, false, 0.75},
		{"ACTIVE", false, true, 0.70},
		{"ACTIVE", false, false, 0.65},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			assert.InDelta(t, tc.want, fmcsaConfidence(tc.status, tc.statusDead, tc.insuranceLapsed), 1e-9)
		})
	}
}

func TestFmcsaInsuranceLapseAlone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmcsaCarrierJSON("ACTIVE", "Y", "N", "")))
	}))
	defer server.Close()

	s, _, drain := newFmcsaScanner(server.URL, nil)
	s.checkCarrier(context.Background(), fmcsaCarrier{"2239788", "Convoy Inc"})

	batch, _ := drain()
	require.Len(t, batch, 1)
	assert.InDelta(t, 0.70, batch[0].Confidence, 1e-9)
	require.NotNil(t, batch[0].Court)
	assert.Contains(t, *batch[0].Court, "INSURANCE LAPSED")
}

func TestFmcsaHealthyCarrierIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmcsaCarrierJSON("ACTIVE", "Y", "Y", "")))
	}))
	defer server.Close()

	s, _, drain := newFmcsaScanner(server.URL, nil)
	s.checkCarrier(context.Background(), fmcsaCarrier{"2239788", "Convoy Inc"})

	batch, _ := drain()
	assert.Empty(t, batch)
}

func TestFmcsaDedupByStatusNotByCarrier(t *testing.T) {
	status := "REVOKED"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmcsaCarrierJSON(status, "Y", "Y", "")))
	}))
	defer server.Close()

	s, deps, drain := newFmcsaScanner(server.URL, nil)
	carrier := fmcsaCarrier{"2239788", "Convoy Inc"}

	s.checkCarrier(context.Background(), carrier)
	s.checkCarrier(context.Background(), carrier)

	batch, _ := drain()
	assert.Len(t, batch, 1, "same status must not re-fire")
	assert.Equal(t, uint64(1), deps.Metrics.Snapshot().TotalEventsDeduplicated)

	// A further status change is a new signal.
	status = "OUT OF SERVICE"
	s.checkCarrier(context.Background(), carrier)

	batch, _ = drain()
	require.Len(t, batch, 1)
	assert.InDelta(t, 0.85, batch[0].Confidence, 1e-9)
}

func TestFmcsaSweepRoundRobin(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(fmcsaCarrierJSON("ACTIVE", "Y", "Y", "")))
	}))
	defer server.Close()

	watchlist := []fmcsaCarrier{
		{"111", "Carrier One"},
		{"222", "Carrier Two"},
		{"333", "Carrier Three"},
		{"444", "Carrier Four"},
	}
	s, _, _ := newFmcsaScanner(server.URL, watchlist)

	s.sweep(context.Background())
	s.sweep(context.Background())

	require.Len(t, paths, 2*fmcsaBatchSize)
	assert.Equal(t, []string{"/111", "/222", "/333", "/444", "/111", "/222"}, paths)
}

func TestFmcsaRawTextFallback(t *testing.T) {
	raw := "CARRIER SNAPSHOT: XYZ Trucking, motor carrier, operating authority REVOKED. " +
		"Chapter 11 bankruptcy filing pending, freight operations ceased."
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(raw))
	}))
	defer server.Close()

	s, _, drain := newFmcsaScanner(server.URL, nil)
	s.checkCarrier(context.Background(), fmcsaCarrier{"555", "XYZ Trucking"})

	batch, _ := drain()
	require.Len(t, batch, 1)
	assert.Equal(t, "XYZ Trucking", batch[0].CompanyName)
	require.NotNil(t, batch[0].Court)
	assert.Equal(t, "FMCSA (raw text parse)", *batch[0].Court)
}

func TestFmcsaRawTextNeedsDeathSignal(t *testing.T) {
	raw := "XYZ Trucking motor carrier freight operations, chapter 11 reorganization rumors."
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(raw))
	}))
	defer server.Close()

	s, _, drain := newFmcsaScanner(server.URL, nil)
	s.checkCarrier(context.Background(), fmcsaCarrier{"555", "XYZ Trucking"})

	batch, _ := drain()
	assert.Empty(t, batch)
}
