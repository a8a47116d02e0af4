// Package pumpevent decodes pump history records into typed events.
// Decoding is pure: no I/O, no clocks, no shared state. Identical bytes and
// context always yield an identical event, so overlapping history pulls are
// safe to decode twice.
package pumpevent

import (
	"fmt"
	"time"
)

// Tag is the leading byte of a history record.
type Tag byte

const (
	TagBolusNormal                Tag = 0x01
	TagPrime                      Tag = 0x03
	TagAlarmPump                  Tag = 0x06
	TagChangeBasalProfilePattern  Tag = 0x08
	TagChangeBasalProfile         Tag = 0x09
	TagClearAlarm                 Tag = 0x0C
	TagSelectBasalProfile         Tag = 0x14
	TagTempBasalDuration          Tag = 0x16
	TagChangeTime                 Tag = 0x17
	TagNewTime                    Tag = 0x18
	TagJournalEntryPumpLowBattery Tag = 0x19
	TagSuspend                    Tag = 0x1E
	TagResume                     Tag = 0x1F
	TagRewind                     Tag = 0x21
	TagTempBasal                  Tag = 0x33
	TagJournalEntryLowReservoir   Tag = 0x34
	TagJournalEntryMealMarker     Tag = 0x40
	TagBasalProfileStart          Tag = 0x7B
)

var tagNames = map[Tag]string{
	TagBolusNormal:                "BolusNormal",
	TagPrime:                      "Prime",
	TagAlarmPump:                  "AlarmPump",
	TagChangeBasalProfilePattern:  "ChangeBasalProfilePattern",
	TagChangeBasalProfile:         "ChangeBasalProfile",
	TagClearAlarm:                 "ClearAlarm",
	TagSelectBasalProfile:         "SelectBasalProfile",
	TagTempBasalDuration:          "TempBasalDuration",
	TagChangeTime:                 "ChangeTime",
	TagNewTime:                    "NewTime",
	TagJournalEntryPumpLowBattery: "JournalEntryPumpLowBattery",
	TagSuspend:                    "Suspend",
	TagResume:                     "Resume",
	TagRewind:                     "Rewind",
	TagTempBasal:                  "TempBasal",
	TagJournalEntryLowReservoir:   "JournalEntryPumpLowReservoir",
	TagJournalEntryMealMarker:     "JournalEntryMealMarker",
	TagBasalProfileStart:          "BasalProfileStart",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", byte(t))
}

// Known reports whether the decoder has a layout for this tag.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// DecodedEvent is the closed set of history record variants. The unexported
// method keeps other packages from adding variants, so a type switch over the
// variants below is exhaustive.
type DecodedEvent interface {
	Head() Header
	decodedEvent()
}

// Header carries the fields every record has.
type Header struct {
	Tag       Tag
	Timestamp time.Time
	Raw       []byte
}

// Head returns the common record fields.
func (h Header) Head() Header { return h }

func (Header) decodedEvent() {}

// Bolus is a normal or square-wave bolus record.
type Bolus struct {
	Header
	Programmed float64 // units
	Delivered  float64 // units
	Duration   time.Duration
	WasRemote  bool
}

// TempBasalRate is the rate half of a temp basal pair.
type TempBasalRate struct {
	Header
	UnitsPerHour float64
	IsPercent    bool
	Percent      int
	WasRemote    bool
}

// TempBasalDuration is the duration half of a temp basal pair. It shares its
// timestamp with the matching TempBasalRate.
type TempBasalDuration struct {
	Header
	Minutes int
}

// BasalSegmentStart marks the start of a scheduled basal segment.
type BasalSegmentStart struct {
	Header
	Index        int
	UnitsPerHour float64
}

// Suspend is an explicit delivery suspend.
type Suspend struct {
	Header
	WasUserInitiated bool
}

// Resume is an explicit delivery resume.
type Resume struct {
	Header
	WasUserInitiated bool
}

// Rewind starts a reservoir change; delivery stops.
type Rewind struct {
	Header
}

// Prime follows a reservoir change.
type Prime struct {
	Header
	Programmed float64
	Delivered  float64
}

// Alarm is a pump alarm record.
type Alarm struct {
	Header
	Type         AlarmType
	IsNoDelivery bool
}

// AlarmCleared records the user clearing an alarm.
type AlarmCleared struct {
	Header
	Type AlarmType
}

// ClockChange marks a discontinuity in device time. ChangeTime records carry
// the old clock, NewTime records the new one.
type ClockChange struct {
	Header
	IsNewTime bool
}

// MarkerKind names informational records that never affect delivery.
type MarkerKind string

const (
	MarkerMeal                 MarkerKind = "meal"
	MarkerLowBattery           MarkerKind = "low_battery"
	MarkerLowReservoir         MarkerKind = "low_reservoir"
	MarkerChangeBasalProfile   MarkerKind = "change_basal_profile"
	MarkerChangeProfilePattern MarkerKind = "change_basal_profile_pattern"
	MarkerSelectBasalProfile   MarkerKind = "select_basal_profile"
)

// Marker is a journal or profile annotation.
type Marker struct {
	Header
	Kind MarkerKind
}

// Unknown preserves a record whose tag the decoder has no layout for.
// Timestamp is zero.
type Unknown struct {
	Header
	RawTag byte
}

// AlarmType is the pump alarm code at byte 1 of alarm records.
type AlarmType byte

const (
	AlarmBatteryOutLimitExceeded   AlarmType = 3
	AlarmNoDelivery                AlarmType = 4
	AlarmBatteryDepleted           AlarmType = 5
	AlarmAutoOff                   AlarmType = 6
	AlarmDeviceReset               AlarmType = 16
	AlarmDeviceResetBatteryIssue17 AlarmType = 17
	AlarmDeviceResetBatteryIssue21 AlarmType = 21
	AlarmReprogramError            AlarmType = 61
	AlarmEmptyReservoir            AlarmType = 62
)

func (a AlarmType) String() string {
	switch a {
	case AlarmBatteryOutLimitExceeded:
		return "battery out limit exceeded"
	case AlarmNoDelivery:
		return "no delivery"
	case AlarmBatteryDepleted:
		return "battery depleted"
	case AlarmAutoOff:
		return "auto off"
	case AlarmDeviceReset:
		return "device reset"
	case AlarmDeviceResetBatteryIssue17, AlarmDeviceResetBatteryIssue21:
		return "device reset battery issue"
	case AlarmReprogramError:
		return "reprogram error"
	case AlarmEmptyReservoir:
		return "empty reservoir"
	default:
		return fmt.Sprintf("unknown alarm %d", byte(a))
	}
}

// IsNoDelivery reports whether the alarm stops insulin delivery without the
// pump logging a separate suspend.
func (a AlarmType) IsNoDelivery() bool {
	return a == AlarmNoDelivery
}
