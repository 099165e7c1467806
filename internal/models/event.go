// Package models defines the bankruptcy event entity shared by the scanners,
// the dedup engine, and the Redis publisher.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies which scanner detected an event.
type Source int

const (
	SourcePacer Source = iota
	SourceEdgar
	SourceFmcsa
	SourceCourtListener
)

// String returns the display form used in dedup keys and log lines.
func (s Source) String() string {
	switch s {
	case SourcePacer:
		return "PACER"
	case SourceEdgar:
		return "SEC_EDGAR"
	case SourceFmcsa:
		return "FMCSA"
	case SourceCourtListener:
		return "COURT_LISTENER"
	default:
		return "UNKNOWN"
	}
}

// wireName is the JSON form; distinct from the display form.
func (s Source) wireName() string {
	switch s {
	case SourcePacer:
		return "Pacer"
	case SourceEdgar:
		return "Edgar"
	case SourceFmcsa:
		return "Fmcsa"
	case SourceCourtListener:
		return "CourtListener"
	default:
		return "Unknown"
	}
}

// MetricsKey is the per-source counter label ("pacer", "edgar", ...).
func (s Source) MetricsKey() string {
	switch s {
	case SourcePacer:
		return "pacer"
	case SourceEdgar:
		return "edgar"
	case SourceFmcsa:
		return "fmcsa"
	case SourceCourtListener:
		return "court_listener"
	default:
		return "unknown"
	}
}

func (s Source) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.wireName() + `"`), nil
}

func (s *Source) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "Pacer":
		*s = SourcePacer
	case "Edgar":
		*s = SourceEdgar
	case "Fmcsa":
		*s = SourceFmcsa
	case "CourtListener":
		*s = SourceCourtListener
	default:
		return fmt.Errorf("unknown source %s", b)
	}
	return nil
}

// Chapter is the bankruptcy chapter filed, when it could be determined.
type Chapter int

const (
	ChapterUnknown Chapter = iota
	Chapter7
	Chapter11
	Chapter13
)

func (c Chapter) String() string {
	switch c {
	case Chapter7:
		return "Chapter 7"
	case Chapter11:
		return "Chapter 11"
	case Chapter13:
		return "Chapter 13"
	default:
		return "Unknown"
	}
}

func (c Chapter) wireName() string {
	switch c {
	case Chapter7:
		return "Chapter7"
	case Chapter11:
		return "Chapter11"
	case Chapter13:
		return "Chapter13"
	default:
		return "Unknown"
	}
}

func (c Chapter) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.wireName() + `"`), nil
}

func (c *Chapter) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "Chapter7":
		*c = Chapter7
	case "Chapter11":
		*c = Chapter11
	case "Chapter13":
		*c = Chapter13
	case "Unknown":
		*c = ChapterUnknown
	default:
		return fmt.Errorf("unknown chapter %s", b)
	}
	return nil
}

// Classification is the kind of logistics company the filing concerns.
type Classification int

const (
	Unclassified Classification = iota
	Carrier
	Broker
	ThirdPartyLogistics
	FreightForwarder
)

func (c Classification) String() string {
	switch c {
	case Carrier:
		return "Carrier"
	case Broker:
		return "Broker"
	case ThirdPartyLogistics:
		return "3PL"
	case FreightForwarder:
		return "Freight Forwarder"
	default:
		return "Unclassified"
	}
}

func (c Classification) wireName() string {
	switch c {
	case Carrier:
		return "Carrier"
	case Broker:
		return "Broker"
	case ThirdPartyLogistics:
		return "ThirdPartyLogistics"
	case FreightForwarder:
		return "FreightForwarder"
	default:
		return "Unclassified"
	}
}

func (c Classification) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.wireName() + `"`), nil
}

func (c *Classification) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "Carrier":
		*c = Carrier
	case "Broker":
		*c = Broker
	case "ThirdPartyLogistics":
		*c = ThirdPartyLogistics
	case "FreightForwarder":
		*c = FreightForwarder
	case "Unclassified":
		*c = Unclassified
	default:
		return fmt.Errorf("unknown classification %s", b)
	}
	return nil
}

// Event is a single detected bankruptcy signal. It is created inside a
// scanner, handed to the event bus, and serialized by the publisher for
// the Redis channel and the sorted-set history log.
type Event struct {
	// ID is a UUID v4 assigned at creation.
	ID string `json:"id"`

	// CompanyName is the debtor as extracted from the source. Non-empty
	// and trimmed.
	CompanyName string `json:"company_name"`

	// DotNumber and McNumber are FMCSA identifiers when the source text
	// carried them (at most 8 and 7 digits respectively).
	DotNumber *string `json:"dot_number"`
	McNumber  *string `json:"mc_number"`

	// FilingDate is the court filing date when one could be parsed. Not
	// to be confused with DetectedAt, which is when we noticed.
	FilingDate *time.Time `json:"filing_date"`

	// Court is the court name or a source-specific annotation.
	Court *string `json:"court"`

	Chapter Chapter `json:"chapter"`
	Source  Source  `json:"source"`

	// DetectedAt is stamped when the scanner builds the event.
	DetectedAt time.Time `json:"detected_at"`

	// Confidence is in [0, 1]; either classifier-scored or, for FMCSA
	// status signals, assigned by policy.
	Confidence float64 `json:"confidence"`

	Classification Classification `json:"classification"`

	// SourceURL points a human back at the filing.
	SourceURL *string `json:"source_url"`
}

// NewEvent builds an event with a fresh UUID and the current UTC time.
// Chapter and classification default to unknown until the scanner fills
// them in.
func NewEvent(companyName string, source Source, confidence float64) *Event {
	return &Event{
		ID:             uuid.New().String(),
		CompanyName:    companyName,
		Chapter:        ChapterUnknown,
		Source:         source,
		DetectedAt:     time.Now().UTC(),
		Confidence:     confidence,
		Classification: Unclassified,
	}
}

// DedupKey derives the default suppression key:
// lowercase(trim(company)) ":" source ":" chapter. Scanners override it
// with a more specific key when repeats occur at a finer grain.
func (e *Event) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s",
		strings.TrimSpace(strings.ToLower(e.CompanyName)), e.Source, e.Chapter)
}

func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s (%s) — %s via %s (confidence: %.1f%%)",
		e.ID, e.CompanyName, e.Classification, e.Chapter, e.Source, e.Confidence*100)
}

// StrPtr is a convenience for the optional string fields.
func StrPtr(s string) *string {
	return &s
}

// ScannerHealth is a point-in-time health report for one scanner,
// assembled for the ops endpoint from the metrics collector and the
// scanner's circuit breaker.
type ScannerHealth struct {
	Source              Source     `json:"source"`
	IsRunning           bool       `json:"is_running"`
	EventsFound         uint64     `json:"events_found"`
	Errors              uint64     `json:"errors"`
	LastPoll            *time.Time `json:"last_poll"`
	CircuitBreakerState string     `json:"circuit_breaker_state"`
}
