// Package logic contains the pure dose reconciliation engine.
// This package has NO I/O dependencies (no BLE, MQTT, storage, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// DoseType is the kind of delivery interval a DoseEntry describes.
type DoseType string

const (
	DoseBasal     DoseType = "basal"
	DoseTempBasal DoseType = "tempBasal"
	DoseBolus     DoseType = "bolus"
	DoseSuspend   DoseType = "suspend"
	DoseResume    DoseType = "resume"
)

// DoseUnit is the unit of a DoseEntry's values.
type DoseUnit string

const (
	UnitsPerHour DoseUnit = "U/hour"
	Units        DoseUnit = "U"
)

// DoseEntry is one normalized delivery-affecting interval.
type DoseEntry struct {
	Type      DoseType
	StartDate time.Time
	// EndDate is nil while the entry is open-ended.
	EndDate    *time.Time
	Programmed float64
	// Delivered is nil when the record does not report it.
	Delivered *float64
	Unit      DoseUnit
	// IsMutable is true while the entry's true end is not yet known.
	IsMutable bool
	// Automatic is nil when attribution is unknown.
	Automatic             *bool
	WasProgrammedAtDevice bool
	// Source is the tag of the record the entry was derived from. Zero for
	// entries not built from history.
	Source pumpevent.Tag
}

// Duration returns EndDate-StartDate, or zero for open entries.
func (d DoseEntry) Duration() time.Duration {
	if d.EndDate == nil {
		return 0
	}
	return d.EndDate.Sub(d.StartDate)
}

// doseNamespace scopes dose IDs.
var doseNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pumpsync/dose"))

// ID is stable across reconciliation passes: it depends only on the type,
// start and source record, so an entry whose end or delivery is revised keeps
// its ID while a rewind and a suspend logged in the same second do not share
// one.
func (d DoseEntry) ID() string {
	key := string(d.Type) + "/" + d.StartDate.UTC().Format(time.RFC3339Nano)
	if d.Source != 0 {
		key += fmt.Sprintf("/%02x", byte(d.Source))
	}
	return uuid.NewSHA1(doseNamespace, []byte(key)).String()
}

// IsOpen reports whether the entry has no end date yet.
func (d DoseEntry) IsOpen() bool {
	return d.EndDate == nil
}

// EventKind classifies a timeline event. Dose-bearing events use their
// dose type; reservoir and alarm events have their own kinds.
type EventKind string

const (
	KindAlarm      EventKind = "alarm"
	KindAlarmClear EventKind = "alarmClear"
	KindPrime      EventKind = "prime"
	KindRewind     EventKind = "rewind"
)

// TimelineEvent is one reconciled history record. Dose is nil for
// annotations that do not affect delivery.
type TimelineEvent struct {
	Date  time.Time
	Dose  *DoseEntry
	Raw   []byte
	Title string
	Kind  EventKind
}

// ReconciliationState is the running state of one reconciliation pass.
// It is created per pass and discarded afterwards.
type ReconciliationState struct {
	LastTempBasalCandidate *DoseEntry
	LastSuspendCandidate   *DoseEntry
	// IsRewound starts true: a history window may begin mid reservoir change.
	IsRewound bool
}

// Counts tallies dose entries by type.
type Counts struct {
	Basal      int
	TempBasal  int
	Bolus      int
	Suspend    int
	Resume     int
	BolusUnits float64
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func timePtr(t time.Time) *time.Time { return &t }
