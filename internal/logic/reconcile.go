package logic

import (
	"time"

	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// scheduledBasalSpan is the provisional length of a scheduled basal segment.
// The next segment start or temp basal supersedes it.
const scheduledBasalSpan = 24 * time.Hour

// NewReconciliationState returns the state a reconciliation pass starts from.
func NewReconciliationState() *ReconciliationState {
	return &ReconciliationState{IsRewound: true}
}

// Apply folds one decoded event into the state and returns the timeline event
// it produces. ok is false when the event only updates state, as absolute temp
// basal rates do until their duration arrives.
//
// Apply never fails: events it cannot interpret become annotations.
func (s *ReconciliationState) Apply(ev pumpevent.DecodedEvent, now time.Time, model pumpevent.Model) (TimelineEvent, bool) {
	if ev == nil {
		return TimelineEvent{}, false
	}
	h := ev.Head()
	out := TimelineEvent{Date: h.Timestamp, Raw: h.Raw, Title: Title(ev)}

	switch e := ev.(type) {
	case pumpevent.Bolus:
		out.Dose = s.bolus(e, now, model)

	case pumpevent.Suspend:
		d := suspendEntry(e.Timestamp, e.WasUserInitiated)
		s.LastSuspendCandidate = d
		out.Dose = d

	case pumpevent.Resume:
		out.Dose = resumeEntry(e.Timestamp, e.WasUserInitiated)

	case pumpevent.TempBasalRate:
		if e.IsPercent {
			// Percent rates cannot be turned into units without the
			// schedule; they stay annotations.
			break
		}
		s.LastTempBasalCandidate = &DoseEntry{
			Type:                  DoseTempBasal,
			StartDate:             e.Timestamp,
			Programmed:            e.UnitsPerHour,
			Unit:                  UnitsPerHour,
			WasProgrammedAtDevice: !e.WasRemote,
		}
		return TimelineEvent{}, false

	case pumpevent.TempBasalDuration:
		out.Dose = s.tempBasal(e, now)

	case pumpevent.BasalSegmentStart:
		out.Dose = &DoseEntry{
			Type:       DoseBasal,
			StartDate:  e.Timestamp,
			EndDate:    timePtr(e.Timestamp.Add(scheduledBasalSpan)),
			Programmed: e.UnitsPerHour,
			Unit:       UnitsPerHour,
		}

	case pumpevent.Rewind:
		s.IsRewound = true
		out.Kind = KindRewind
		out.Dose = suspendEntry(e.Timestamp, false)

	case pumpevent.Prime:
		out.Kind = KindPrime
		if s.IsRewound {
			s.IsRewound = false
			out.Dose = resumeEntry(e.Timestamp, false)
		}

	case pumpevent.Alarm:
		out.Kind = KindAlarm
		if e.IsNoDelivery {
			out.Dose = suspendEntry(e.Timestamp, false)
		}

	case pumpevent.AlarmCleared:
		out.Kind = KindAlarmClear
		if e.Type.IsNoDelivery() {
			out.Dose = resumeEntry(e.Timestamp, false)
		}
	}

	if out.Dose != nil {
		out.Dose.Source = h.Tag
		if out.Kind == "" {
			out.Kind = EventKind(out.Dose.Type)
		}
	}
	return out, true
}

func (s *ReconciliationState) bolus(e pumpevent.Bolus, now time.Time, model pumpevent.Model) *DoseEntry {
	var end time.Time
	switch {
	case s.LastSuspendCandidate != nil &&
		s.LastSuspendCandidate.StartDate.After(e.Timestamp) &&
		e.Programmed != e.Delivered:
		// Interrupted by a later suspend.
		end = s.LastSuspendCandidate.StartDate
	case e.Duration > 0:
		end = e.Timestamp.Add(e.Duration)
	default:
		end = e.Timestamp.Add(model.BolusDeliveryTime(e.Delivered))
	}

	var automatic *bool
	if !e.WasRemote {
		automatic = boolPtr(false)
	}
	return &DoseEntry{
		Type:                  DoseBolus,
		StartDate:             e.Timestamp,
		EndDate:               timePtr(end),
		Programmed:            e.Programmed,
		Delivered:             floatPtr(e.Delivered),
		Unit:                  Units,
		IsMutable:             end.After(now),
		Automatic:             automatic,
		WasProgrammedAtDevice: !e.WasRemote,
	}
}

// tempBasal pairs a duration with the buffered rate. Only records written at
// the same instant belong together; anything else leaves the duration as an
// annotation. A rate pairs at most once.
func (s *ReconciliationState) tempBasal(e pumpevent.TempBasalDuration, now time.Time) *DoseEntry {
	rate := s.LastTempBasalCandidate
	if rate == nil || !rate.StartDate.Equal(e.Timestamp) {
		return nil
	}
	s.LastTempBasalCandidate = nil
	end := rate.StartDate.Add(time.Duration(e.Minutes) * time.Minute)
	return &DoseEntry{
		Type:                  DoseTempBasal,
		StartDate:             rate.StartDate,
		EndDate:               timePtr(end),
		Programmed:            rate.Programmed,
		Unit:                  UnitsPerHour,
		IsMutable:             end.After(now),
		Automatic:             boolPtr(false),
		WasProgrammedAtDevice: rate.WasProgrammedAtDevice,
	}
}

func suspendEntry(at time.Time, atDevice bool) *DoseEntry {
	return &DoseEntry{
		Type:                  DoseSuspend,
		StartDate:             at,
		EndDate:               timePtr(at),
		Unit:                  Units,
		WasProgrammedAtDevice: atDevice,
	}
}

func resumeEntry(at time.Time, atDevice bool) *DoseEntry {
	return &DoseEntry{
		Type:                  DoseResume,
		StartDate:             at,
		EndDate:               timePtr(at),
		Unit:                  Units,
		WasProgrammedAtDevice: atDevice,
	}
}

// Timeline reconciles events in the order given and returns every timeline
// event, dose-bearing or not.
func Timeline(events []pumpevent.DecodedEvent, now time.Time, model pumpevent.Model) []TimelineEvent {
	state := NewReconciliationState()
	out := make([]TimelineEvent, 0, len(events))
	for _, ev := range events {
		if te, ok := state.Apply(ev, now, model); ok {
			out = append(out, te)
		}
	}
	return out
}

// Reconcile turns decoded history, oldest first, into dose entries in event
// order. Unordered or unexpected input yields fewer entries, never an error.
func Reconcile(events []pumpevent.DecodedEvent, now time.Time, model pumpevent.Model) []DoseEntry {
	doses := make([]DoseEntry, 0, len(events))
	for _, te := range Timeline(events, now, model) {
		if te.Dose != nil {
			doses = append(doses, *te.Dose)
		}
	}
	return doses
}

// Summarize counts doses by type.
func Summarize(doses []DoseEntry) Counts {
	var c Counts
	for _, d := range doses {
		switch d.Type {
		case DoseBasal:
			c.Basal++
		case DoseTempBasal:
			c.TempBasal++
		case DoseBolus:
			c.Bolus++
			if d.Delivered != nil {
				c.BolusUnits += *d.Delivered
			} else {
				c.BolusUnits += d.Programmed
			}
		case DoseSuspend:
			c.Suspend++
		case DoseResume:
			c.Resume++
		}
	}
	return c
}

// Suspended reports whether the most recent suspend or resume in doses is a
// suspend.
func Suspended(doses []DoseEntry) bool {
	for i := len(doses) - 1; i >= 0; i-- {
		switch doses[i].Type {
		case DoseSuspend:
			return true
		case DoseResume:
			return false
		}
	}
	return false
}
