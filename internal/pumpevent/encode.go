package pumpevent

import (
	"encoding/binary"
	"math"
	"time"
)

// Record builders produce the on-device layout Decode reads. The fake bridge
// and tests use them to script pump history.

func withTimestamp(rec []byte, offset int, t time.Time, remote bool) []byte {
	copy(rec[offset:], EncodeTimestamp(t))
	if remote {
		rec[offset+3] |= remoteFlag
	}
	return rec
}

func strokes(units, perUnit float64) int {
	return int(math.Round(units * perUnit))
}

// BolusRecord encodes a bolus for model m.
func BolusRecord(m Model, t time.Time, programmed, delivered float64, duration time.Duration, remote bool) []byte {
	halfHours := byte(duration / (30 * time.Minute))
	if m.Larger() {
		rec := make([]byte, 13)
		rec[0] = byte(TagBolusNormal)
		spu := m.StrokesPerUnit()
		binary.BigEndian.PutUint16(rec[1:3], uint16(strokes(programmed, spu)))
		binary.BigEndian.PutUint16(rec[3:5], uint16(strokes(delivered, spu)))
		rec[7] = halfHours
		return withTimestamp(rec, 8, t, remote)
	}
	rec := make([]byte, 9)
	rec[0] = byte(TagBolusNormal)
	rec[1] = byte(strokes(programmed, 10))
	rec[2] = byte(strokes(delivered, 10))
	rec[3] = halfHours
	return withTimestamp(rec, 4, t, remote)
}

// TempBasalRecord encodes an absolute temp basal rate.
func TempBasalRecord(t time.Time, unitsPerHour float64, remote bool) []byte {
	raw := strokes(unitsPerHour, 40)
	rec := make([]byte, 8)
	rec[0] = byte(TagTempBasal)
	rec[1] = byte(raw)
	rec[7] = byte(raw>>8) & 0x07
	return withTimestamp(rec, 2, t, remote)
}

// TempBasalPercentRecord encodes a percent temp basal rate.
func TempBasalPercentRecord(t time.Time, percent int) []byte {
	rec := make([]byte, 8)
	rec[0] = byte(TagTempBasal)
	rec[1] = byte(percent)
	rec[7] = 0x08
	return withTimestamp(rec, 2, t, false)
}

// TempBasalDurationRecord encodes a temp basal duration, rounded down to
// half hours.
func TempBasalDurationRecord(t time.Time, minutes int) []byte {
	rec := make([]byte, 7)
	rec[0] = byte(TagTempBasalDuration)
	rec[1] = byte(minutes / 30)
	return withTimestamp(rec, 2, t, false)
}

// BasalProfileStartRecord encodes the start of scheduled segment index.
func BasalProfileStartRecord(t time.Time, index int, unitsPerHour float64) []byte {
	rec := make([]byte, 10)
	rec[0] = byte(TagBasalProfileStart)
	rec[7] = byte(index)
	binary.LittleEndian.PutUint16(rec[8:10], uint16(strokes(unitsPerHour, 40)))
	return withTimestamp(rec, 2, t, false)
}

// PrimeRecord encodes a prime.
func PrimeRecord(t time.Time, programmed, delivered float64) []byte {
	rec := make([]byte, 10)
	rec[0] = byte(TagPrime)
	rec[2] = byte(strokes(programmed, 10))
	rec[4] = byte(strokes(delivered, 10))
	return withTimestamp(rec, 5, t, false)
}

// AlarmRecord encodes a pump alarm.
func AlarmRecord(t time.Time, alarm AlarmType) []byte {
	rec := make([]byte, 9)
	rec[0] = byte(TagAlarmPump)
	rec[1] = byte(alarm)
	return withTimestamp(rec, 4, t, false)
}

// ClearAlarmRecord encodes an alarm being cleared.
func ClearAlarmRecord(t time.Time, alarm AlarmType) []byte {
	rec := make([]byte, 7)
	rec[0] = byte(TagClearAlarm)
	rec[1] = byte(alarm)
	return withTimestamp(rec, 2, t, false)
}

// SimpleRecord encodes any 7-byte record that carries only a timestamp:
// suspend, resume, rewind, clock changes and most journal entries.
func SimpleRecord(tag Tag, t time.Time, remote bool) []byte {
	rec := make([]byte, 7)
	rec[0] = byte(tag)
	return withTimestamp(rec, 2, t, remote)
}
