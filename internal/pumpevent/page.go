package pumpevent

import (
	"encoding/binary"
	"time"

	"github.com/sweeney/pumpsync/internal/crc16"
)

const (
	// PageSize is a full history page including its trailing CRC.
	PageSize = 1024
	pageData = PageSize - 2
)

// ParsePage decodes every record of one history page, oldest first.
//
// Zero bytes are padding and are skipped. An unknown tag ends the page: the
// rest of the data is kept in the Unknown record because its length cannot be
// known. A record that fails to decode also ends the page; the records before
// it are returned together with a *PageError.
func ParsePage(page []byte, ctx Context) ([]DecodedEvent, error) {
	if len(page) != PageSize {
		return nil, ErrPageLength
	}
	want := binary.BigEndian.Uint16(page[pageData:])
	if crc16.Checksum(page[:pageData]) != want {
		return nil, ErrPageCRC
	}

	data := page[:pageData]
	var events []DecodedEvent
	for offset := 0; offset < len(data); {
		if data[offset] == 0 {
			offset++
			continue
		}
		ev, err := Decode(data[offset:], ctx)
		if err != nil {
			return events, &PageError{Offset: offset, Err: err}
		}
		events = append(events, ev)
		if _, unknown := ev.(Unknown); unknown {
			break
		}
		offset += len(ev.Head().Raw)
	}
	return events, nil
}

// BuildPage pads records to a full page and appends the CRC. It is the
// inverse of ParsePage for well-formed input.
func BuildPage(records ...[]byte) []byte {
	page := make([]byte, PageSize)
	n := 0
	for _, r := range records {
		n += copy(page[n:pageData], r)
	}
	binary.BigEndian.PutUint16(page[pageData:], crc16.Checksum(page[:pageData]))
	return page
}

// Monotonic reports the index of the first event whose timestamp is earlier
// than its predecessor's without a ClockChange in between. Events without a
// timestamp are ignored.
func Monotonic(events []DecodedEvent) (int, bool) {
	var last time.Time
	for i, ev := range events {
		if _, ok := ev.(ClockChange); ok {
			last = time.Time{}
			continue
		}
		ts := ev.Head().Timestamp
		if ts.IsZero() {
			continue
		}
		if !last.IsZero() && ts.Before(last) {
			return i, false
		}
		last = ts
	}
	return -1, true
}
