package pumpevent

import (
	"encoding/binary"
	"errors"
	"time"
)

// Context is what the decoder needs beyond the bytes themselves.
type Context struct {
	Model Model
	// ReferenceDate supplies the location device-local timestamps are
	// interpreted in. A zero value means UTC.
	ReferenceDate time.Time
}

func (c Context) location() *time.Location {
	if c.ReferenceDate.IsZero() {
		return time.UTC
	}
	return c.ReferenceDate.Location()
}

// RecordLength returns how many bytes the record starting with tag occupies
// on the given model. ok is false for unknown tags.
func RecordLength(tag Tag, m Model) (n int, ok bool) {
	switch tag {
	case TagBolusNormal:
		if m.Larger() {
			return 13, true
		}
		return 9, true
	case TagPrime, TagBasalProfileStart:
		return 10, true
	case TagAlarmPump, TagJournalEntryMealMarker:
		return 9, true
	case TagTempBasal:
		return 8, true
	case TagChangeBasalProfilePattern, TagChangeBasalProfile:
		return 152, true
	case TagClearAlarm, TagSelectBasalProfile, TagTempBasalDuration, TagChangeTime, TagNewTime,
		TagJournalEntryPumpLowBattery, TagSuspend, TagResume, TagRewind, TagJournalEntryLowReservoir:
		return 7, true
	}
	return 0, false
}

// timestampOffset is where the packed date-time lives in each record.
func timestampOffset(tag Tag, m Model) int {
	switch tag {
	case TagBolusNormal:
		if m.Larger() {
			return 8
		}
		return 4
	case TagAlarmPump, TagJournalEntryMealMarker:
		return 4
	case TagPrime:
		return 5
	default:
		return 2
	}
}

// Decode turns one record into its typed event. buf may extend past the
// record; only the record's own bytes are kept in Raw.
func Decode(buf []byte, ctx Context) (DecodedEvent, error) {
	if len(buf) == 0 {
		return nil, &DecodeError{Kind: EmptyBuffer}
	}
	tag := Tag(buf[0])
	length, known := RecordLength(tag, ctx.Model)
	if !known {
		return Unknown{
			Header: Header{Tag: tag, Raw: clone(buf)},
			RawTag: buf[0],
		}, nil
	}
	if len(buf) < length {
		return nil, &DecodeError{Kind: TruncatedRecord, Tag: tag, Need: length, Have: len(buf)}
	}

	rec := buf[:length]
	tsOffset := timestampOffset(tag, ctx.Model)
	ts, err := DecodeTimestamp(rec, tsOffset, ctx.location())
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Tag = tag
		}
		return nil, err
	}
	h := Header{Tag: tag, Timestamp: ts, Raw: clone(rec)}
	remote := rec[tsOffset+3]&remoteFlag != 0

	switch tag {
	case TagBolusNormal:
		return decodeBolus(h, rec, ctx.Model, remote), nil
	case TagPrime:
		return Prime{
			Header:     h,
			Programmed: float64(rec[2]) / 10,
			Delivered:  float64(rec[4]) / 10,
		}, nil
	case TagAlarmPump:
		alarm := AlarmType(rec[1])
		return Alarm{Header: h, Type: alarm, IsNoDelivery: alarm.IsNoDelivery()}, nil
	case TagClearAlarm:
		return AlarmCleared{Header: h, Type: AlarmType(rec[1])}, nil
	case TagTempBasal:
		return decodeTempBasal(h, rec, remote), nil
	case TagTempBasalDuration:
		return TempBasalDuration{Header: h, Minutes: int(rec[1]) * 30}, nil
	case TagBasalProfileStart:
		return BasalSegmentStart{
			Header:       h,
			Index:        int(rec[7]),
			UnitsPerHour: float64(binary.LittleEndian.Uint16(rec[8:10])) / 40,
		}, nil
	case TagSuspend:
		return Suspend{Header: h, WasUserInitiated: !remote}, nil
	case TagResume:
		return Resume{Header: h, WasUserInitiated: !remote}, nil
	case TagRewind:
		return Rewind{Header: h}, nil
	case TagChangeTime:
		return ClockChange{Header: h}, nil
	case TagNewTime:
		return ClockChange{Header: h, IsNewTime: true}, nil
	case TagJournalEntryMealMarker:
		return Marker{Header: h, Kind: MarkerMeal}, nil
	case TagJournalEntryPumpLowBattery:
		return Marker{Header: h, Kind: MarkerLowBattery}, nil
	case TagJournalEntryLowReservoir:
		return Marker{Header: h, Kind: MarkerLowReservoir}, nil
	case TagChangeBasalProfile:
		return Marker{Header: h, Kind: MarkerChangeBasalProfile}, nil
	case TagChangeBasalProfilePattern:
		return Marker{Header: h, Kind: MarkerChangeProfilePattern}, nil
	case TagSelectBasalProfile:
		return Marker{Header: h, Kind: MarkerSelectBasalProfile}, nil
	}
	// RecordLength and this switch list the same tags.
	return Unknown{Header: Header{Tag: tag, Raw: clone(buf)}, RawTag: buf[0]}, nil
}

func decodeBolus(h Header, rec []byte, m Model, remote bool) Bolus {
	b := Bolus{Header: h, WasRemote: remote}
	if m.Larger() {
		spu := m.StrokesPerUnit()
		b.Programmed = float64(binary.BigEndian.Uint16(rec[1:3])) / spu
		b.Delivered = float64(binary.BigEndian.Uint16(rec[3:5])) / spu
		b.Duration = time.Duration(rec[7]) * 30 * time.Minute
	} else {
		b.Programmed = float64(rec[1]) / 10
		b.Delivered = float64(rec[2]) / 10
		b.Duration = time.Duration(rec[3]) * 30 * time.Minute
	}
	return b
}

func decodeTempBasal(h Header, rec []byte, remote bool) TempBasalRate {
	t := TempBasalRate{Header: h, WasRemote: remote}
	if rec[7]>>3 == 0 {
		t.UnitsPerHour = float64(int(rec[7]&0x07)<<8|int(rec[1])) / 40
	} else {
		t.IsPercent = true
		t.Percent = int(rec[1])
	}
	return t
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
