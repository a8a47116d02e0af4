package pumpevent

import "time"

// timestampLength is the size of the packed date-time field.
const timestampLength = 5

// remoteFlag is set in the day byte when a record was triggered over the radio.
const remoteFlag = 0x40

// DecodeTimestamp unpacks the 5-byte device date-time at offset, in loc.
//
//	b0: mm ssssss   (month high bits, seconds)
//	b1: mm mmmmmm   (month low bits, minutes)
//	b2: xxx hhhhh
//	b3: xxx ddddd
//	b4: x yyyyyyy   (years since 2000)
func DecodeTimestamp(buf []byte, offset int, loc *time.Location) (time.Time, error) {
	if offset < 0 || len(buf) < offset+timestampLength {
		return time.Time{}, &DecodeError{Kind: TruncatedRecord, Offset: offset}
	}
	b := buf[offset : offset+timestampLength]

	second := int(b[0] & 0x3f)
	minute := int(b[1] & 0x3f)
	hour := int(b[2] & 0x1f)
	day := int(b[3] & 0x1f)
	month := int((b[0]>>4)&0x0c | b[1]>>6)
	year := 2000 + int(b[4]&0x7f)

	if month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) ||
		hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, &DecodeError{Kind: InvalidTimestamp, Offset: offset}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// EncodeTimestamp packs t into the 5-byte device layout. Years outside
// 2000-2127 wrap.
func EncodeTimestamp(t time.Time) []byte {
	month := byte(t.Month())
	return []byte{
		(month&0x0c)<<4 | byte(t.Second()),
		(month&0x03)<<6 | byte(t.Minute()),
		byte(t.Hour()),
		byte(t.Day()),
		byte(t.Year()-2000) & 0x7f,
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
