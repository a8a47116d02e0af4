package pumpevent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	page := BuildPage(
		SimpleRecord(TagRewind, t0, false),
		PrimeRecord(t0.Add(2*time.Minute), 0.3, 0.3),
		TempBasalRecord(t0.Add(10*time.Minute), 1.5, true),
		TempBasalDurationRecord(t0.Add(10*time.Minute), 30),
		BolusRecord(model722, t0.Add(15*time.Minute), 2, 2, 0, false),
	)
	require.Len(t, page, PageSize)

	events, err := ParsePage(page, ctxFor(model722))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.IsType(t, Rewind{}, events[0])
	assert.IsType(t, Prime{}, events[1])
	assert.IsType(t, TempBasalRate{}, events[2])
	assert.IsType(t, TempBasalDuration{}, events[3])
	assert.IsType(t, Bolus{}, events[4])

	_, ok := Monotonic(events)
	assert.True(t, ok)
}

func TestParsePageCRCMismatch(t *testing.T) {
	page := BuildPage(SimpleRecord(TagRewind, t0, false))
	page[3] ^= 0xFF

	_, err := ParsePage(page, ctxFor(model722))
	assert.ErrorIs(t, err, ErrPageCRC)
}

func TestParsePageWrongLength(t *testing.T) {
	_, err := ParsePage(make([]byte, 100), ctxFor(model722))
	assert.ErrorIs(t, err, ErrPageLength)
}

func TestParsePageUnknownTagEndsPage(t *testing.T) {
	page := BuildPage(
		SimpleRecord(TagSuspend, t0, false),
		[]byte{0xEE, 0x01, 0x02},
		SimpleRecord(TagResume, t0.Add(time.Minute), false),
	)

	events, err := ParsePage(page, ctxFor(model722))
	require.NoError(t, err)
	require.Len(t, events, 2)

	u, ok := events[1].(Unknown)
	require.True(t, ok)
	assert.Equal(t, byte(0xEE), u.RawTag)
	assert.Len(t, u.Raw, pageData-7)
}

func TestParsePageStopsAtBadRecord(t *testing.T) {
	bad := SimpleRecord(TagResume, t0, false)
	bad[5] = 0 // day zero
	page := BuildPage(SimpleRecord(TagSuspend, t0, false), bad)

	events, err := ParsePage(page, ctxFor(model722))
	require.Error(t, err)
	assert.Len(t, events, 1)

	var pe *PageError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 7, pe.Offset)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestMonotonic(t *testing.T) {
	ev := func(rec []byte) DecodedEvent {
		e, err := Decode(rec, ctxFor(model722))
		require.NoError(t, err)
		return e
	}

	backwards := []DecodedEvent{
		ev(SimpleRecord(TagSuspend, t0, false)),
		ev(SimpleRecord(TagResume, t0.Add(-time.Hour), false)),
	}
	idx, ok := Monotonic(backwards)
	assert.False(t, ok)
	assert.Equal(t, 1, idx)

	withClockChange := []DecodedEvent{
		ev(SimpleRecord(TagSuspend, t0, false)),
		ev(SimpleRecord(TagChangeTime, t0, false)),
		ev(SimpleRecord(TagNewTime, t0.Add(-time.Hour), false)),
		ev(SimpleRecord(TagResume, t0.Add(-time.Hour), false)),
	}
	_, ok = Monotonic(withClockChange)
	assert.True(t, ok)
}
