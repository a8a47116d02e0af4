package logic

import (
	"testing"
	"time"

	"github.com/sweeney/pumpsync/internal/pumpevent"
)

var (
	model722 = pumpevent.MustParseModel("722")
	model522 = pumpevent.MustParseModel("522")
	t0       = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
)

func decodeAll(t *testing.T, m pumpevent.Model, records ...[]byte) []pumpevent.DecodedEvent {
	t.Helper()
	ctx := pumpevent.Context{Model: m, ReferenceDate: t0}
	events := make([]pumpevent.DecodedEvent, 0, len(records))
	for _, rec := range records {
		ev, err := pumpevent.Decode(rec, ctx)
		if err != nil {
			t.Fatalf("decode %x: %v", rec, err)
		}
		events = append(events, ev)
	}
	return events
}

func typesOf(doses []DoseEntry) []DoseType {
	out := make([]DoseType, len(doses))
	for i, d := range doses {
		out[i] = d.Type
	}
	return out
}

func sameTypes(a, b []DoseType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewReconciliationStateStartsRewound(t *testing.T) {
	s := NewReconciliationState()
	if !s.IsRewound {
		t.Error("new state should start rewound")
	}
	if s.LastTempBasalCandidate != nil || s.LastSuspendCandidate != nil {
		t.Error("new state should have no candidates")
	}
}

func TestRewindPrimeBracketsReservoirChange(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.SimpleRecord(pumpevent.TagRewind, t0, false),
		pumpevent.PrimeRecord(t0.Add(3*time.Minute), 0.3, 0.3),
	)
	doses := Reconcile(events, t0.Add(time.Hour), model722)

	want := []DoseType{DoseSuspend, DoseResume}
	if !sameTypes(typesOf(doses), want) {
		t.Fatalf("expected %v, got %v", want, typesOf(doses))
	}
	if !doses[0].StartDate.Equal(t0) {
		t.Errorf("suspend should start at rewind, got %v", doses[0].StartDate)
	}
	if !doses[1].StartDate.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("resume should start at prime, got %v", doses[1].StartDate)
	}
	for _, d := range doses {
		if d.WasProgrammedAtDevice {
			t.Errorf("%s synthesized from a reservoir change should not be marked as programmed at device", d.Type)
		}
	}
	if doses[0].Source != pumpevent.TagRewind || doses[1].Source != pumpevent.TagPrime {
		t.Errorf("sources: got %v, %v", doses[0].Source, doses[1].Source)
	}
}

func TestSecondPrimeDoesNotResumeAgain(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.SimpleRecord(pumpevent.TagRewind, t0, false),
		pumpevent.PrimeRecord(t0.Add(3*time.Minute), 10, 10),
		pumpevent.PrimeRecord(t0.Add(5*time.Minute), 0.3, 0.3),
	)
	doses := Reconcile(events, t0.Add(time.Hour), model722)
	want := []DoseType{DoseSuspend, DoseResume}
	if !sameTypes(typesOf(doses), want) {
		t.Errorf("expected %v, got %v", want, typesOf(doses))
	}
}

func TestPrimeAtWindowStartResumes(t *testing.T) {
	events := decodeAll(t, model722, pumpevent.PrimeRecord(t0, 0.3, 0.3))
	doses := Reconcile(events, t0.Add(time.Hour), model722)
	if !sameTypes(typesOf(doses), []DoseType{DoseResume}) {
		t.Errorf("expected a single resume, got %v", typesOf(doses))
	}
}

func TestTempBasalPairsWithDuration(t *testing.T) {
	at := t0.Add(10 * time.Minute)
	events := decodeAll(t, model722,
		pumpevent.TempBasalRecord(at, 1.5, true),
		pumpevent.TempBasalDurationRecord(at, 30),
	)
	now := at.Add(10 * time.Minute)
	doses := Reconcile(events, now, model722)
	if len(doses) != 1 {
		t.Fatalf("expected 1 dose, got %d", len(doses))
	}
	d := doses[0]
	if d.Type != DoseTempBasal {
		t.Errorf("expected tempBasal, got %s", d.Type)
	}
	if d.Programmed != 1.5 || d.Unit != UnitsPerHour {
		t.Errorf("expected 1.5 U/hour, got %v %s", d.Programmed, d.Unit)
	}
	if d.Duration() != 30*time.Minute {
		t.Errorf("expected 30m, got %v", d.Duration())
	}
	if !d.IsMutable {
		t.Error("running temp basal should be mutable")
	}
	if d.WasProgrammedAtDevice {
		t.Error("remote temp basal should not be marked as programmed at device")
	}
	if d.Automatic == nil || *d.Automatic {
		t.Error("temp basal should be marked not automatic")
	}
}

func TestTempBasalElapsedIsImmutable(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.TempBasalRecord(t0, 1.5, false),
		pumpevent.TempBasalDurationRecord(t0, 30),
	)
	doses := Reconcile(events, t0.Add(2*time.Hour), model722)
	if len(doses) != 1 {
		t.Fatalf("expected 1 dose, got %d", len(doses))
	}
	if doses[0].IsMutable {
		t.Error("elapsed temp basal should not be mutable")
	}
}

func TestTempBasalCancel(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.TempBasalRecord(t0, 0, false),
		pumpevent.TempBasalDurationRecord(t0, 0),
	)
	doses := Reconcile(events, t0.Add(time.Minute), model722)
	if len(doses) != 1 {
		t.Fatalf("expected 1 dose, got %d", len(doses))
	}
	if doses[0].Duration() != 0 {
		t.Errorf("cancel should be zero length, got %v", doses[0].Duration())
	}
	if doses[0].IsMutable {
		t.Error("cancel should not be mutable")
	}
}

func TestRateRecordPairsOnce(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.TempBasalRecord(t0, 1.5, false),
		pumpevent.TempBasalDurationRecord(t0, 30),
		pumpevent.TempBasalDurationRecord(t0, 30),
	)
	doses := Reconcile(events, t0.Add(time.Hour), model722)
	if !sameTypes(typesOf(doses), []DoseType{DoseTempBasal}) {
		t.Errorf("repeated duration should not pair again, got %v", typesOf(doses))
	}

	state := NewReconciliationState()
	for _, ev := range events[:2] {
		state.Apply(ev, t0, model722)
	}
	if state.LastTempBasalCandidate != nil {
		t.Error("candidate should be cleared once paired")
	}
}

func TestUnpairedDurationIsDropped(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.TempBasalRecord(t0, 1.5, false),
		pumpevent.TempBasalDurationRecord(t0.Add(time.Second), 30),
		pumpevent.SimpleRecord(pumpevent.TagSuspend, t0.Add(time.Minute), false),
	)
	doses := Reconcile(events, t0.Add(time.Hour), model722)
	if !sameTypes(typesOf(doses), []DoseType{DoseSuspend}) {
		t.Errorf("expected only the suspend, got %v", typesOf(doses))
	}

	tl := Timeline(events, t0.Add(time.Hour), model722)
	if len(tl) != 2 {
		t.Fatalf("expected duration annotation and suspend, got %d events", len(tl))
	}
	if tl[0].Dose != nil || tl[0].Title != "Temp Basal Duration" {
		t.Errorf("unpaired duration should be a bare annotation, got %+v", tl[0])
	}
}

func TestPercentTempBasalIsAnnotation(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.TempBasalPercentRecord(t0, 150),
		pumpevent.TempBasalDurationRecord(t0, 30),
	)
	if doses := Reconcile(events, t0, model722); len(doses) != 0 {
		t.Errorf("percent temp basal should not produce doses, got %v", typesOf(doses))
	}
	tl := Timeline(events, t0, model722)
	if len(tl) != 2 || tl[0].Title != "Temp Basal Percent" {
		t.Errorf("expected percent annotation first, got %+v", tl)
	}
}

func TestBolusClampedBySuspend(t *testing.T) {
	bolusAt := t0
	suspendAt := t0.Add(2 * time.Minute)
	state := NewReconciliationState()
	state.LastSuspendCandidate = suspendEntry(suspendAt, true)

	ev := decodeAll(t, model722, pumpevent.BolusRecord(model722, bolusAt, 10, 4, 0, false))[0]
	te, ok := state.Apply(ev, t0.Add(time.Minute), model722)
	if !ok || te.Dose == nil {
		t.Fatal("bolus should produce a dose")
	}
	if !te.Dose.EndDate.Equal(suspendAt) {
		t.Errorf("expected end at suspend %v, got %v", suspendAt, te.Dose.EndDate)
	}
	if *te.Dose.Delivered != 4 {
		t.Errorf("expected 4U delivered, got %v", *te.Dose.Delivered)
	}
}

func TestBolusNotClampedWhenFullyDelivered(t *testing.T) {
	state := NewReconciliationState()
	state.LastSuspendCandidate = suspendEntry(t0.Add(2*time.Minute), true)

	ev := decodeAll(t, model722, pumpevent.BolusRecord(model722, t0, 5, 5, 0, false))[0]
	te, _ := state.Apply(ev, t0, model722)
	want := t0.Add(model722.BolusDeliveryTime(5))
	if !te.Dose.EndDate.Equal(want) {
		t.Errorf("expected end %v, got %v", want, te.Dose.EndDate)
	}
}

func TestBolusEndDate(t *testing.T) {
	tests := []struct {
		name  string
		model pumpevent.Model
		rec   []byte
		want  time.Duration
	}{
		{"square", model722, pumpevent.BolusRecord(model722, t0, 3, 3, time.Hour, false), time.Hour},
		{"normal larger", model722, pumpevent.BolusRecord(model722, t0, 2, 2, 0, false), 80 * time.Second},
		{"normal smaller", model522, pumpevent.BolusRecord(model522, t0, 2, 2, 0, false), 4 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doses := Reconcile(decodeAll(t, tt.model, tt.rec), t0, tt.model)
			if len(doses) != 1 {
				t.Fatalf("expected 1 dose, got %d", len(doses))
			}
			if got := doses[0].Duration(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBolusMutability(t *testing.T) {
	events := decodeAll(t, model722, pumpevent.BolusRecord(model722, t0, 3, 3, time.Hour, false))

	if d := Reconcile(events, t0.Add(30*time.Minute), model722)[0]; !d.IsMutable {
		t.Error("bolus still delivering should be mutable")
	}
	if d := Reconcile(events, t0.Add(2*time.Hour), model722)[0]; d.IsMutable {
		t.Error("finished bolus should not be mutable")
	}
}

func TestBolusAttribution(t *testing.T) {
	local := Reconcile(decodeAll(t, model722, pumpevent.BolusRecord(model722, t0, 1, 1, 0, false)), t0, model722)[0]
	if local.Automatic == nil || *local.Automatic {
		t.Error("bolus programmed at the pump is not automatic")
	}
	if !local.WasProgrammedAtDevice {
		t.Error("local bolus should be marked as programmed at device")
	}

	remote := Reconcile(decodeAll(t, model722, pumpevent.BolusRecord(model722, t0, 1, 1, 0, true)), t0, model722)[0]
	if remote.Automatic != nil {
		t.Error("remote bolus attribution should be unknown")
	}
}

func TestNoDeliveryAlarmSuspendsAndClearResumes(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.AlarmRecord(t0, pumpevent.AlarmNoDelivery),
		pumpevent.ClearAlarmRecord(t0.Add(5*time.Minute), pumpevent.AlarmNoDelivery),
		pumpevent.AlarmRecord(t0.Add(6*time.Minute), pumpevent.AlarmBatteryDepleted),
		pumpevent.ClearAlarmRecord(t0.Add(7*time.Minute), pumpevent.AlarmBatteryDepleted),
	)
	tl := Timeline(events, t0.Add(time.Hour), model722)
	if len(tl) != 4 {
		t.Fatalf("expected 4 timeline events, got %d", len(tl))
	}
	if tl[0].Kind != KindAlarm || tl[0].Dose == nil || tl[0].Dose.Type != DoseSuspend {
		t.Errorf("no-delivery alarm should suspend, got %+v", tl[0])
	}
	if tl[1].Kind != KindAlarmClear || tl[1].Dose == nil || tl[1].Dose.Type != DoseResume {
		t.Errorf("clearing no-delivery alarm should resume, got %+v", tl[1])
	}
	if tl[0].Dose.WasProgrammedAtDevice || tl[1].Dose.WasProgrammedAtDevice {
		t.Error("entries synthesized from alarms should not be marked as programmed at device")
	}
	if tl[2].Dose != nil || tl[3].Dose != nil {
		t.Error("other alarms should be annotations")
	}
	if tl[2].Title != "Alarm: battery depleted" {
		t.Errorf("unexpected title %q", tl[2].Title)
	}
}

func TestBasalSegmentProvisionalEnd(t *testing.T) {
	events := decodeAll(t, model722, pumpevent.BasalProfileStartRecord(t0, 2, 0.85))
	doses := Reconcile(events, t0, model722)
	if len(doses) != 1 {
		t.Fatalf("expected 1 dose, got %d", len(doses))
	}
	d := doses[0]
	if d.Type != DoseBasal || d.Duration() != 24*time.Hour || d.Programmed != 0.85 {
		t.Errorf("unexpected basal entry %+v", d)
	}
	if d.IsMutable {
		t.Error("scheduled basal should not be mutable")
	}
}

func TestReconcileEmptyAndUnordered(t *testing.T) {
	if doses := Reconcile(nil, t0, model722); len(doses) != 0 {
		t.Errorf("expected no doses, got %d", len(doses))
	}

	events := decodeAll(t, model722,
		pumpevent.SimpleRecord(pumpevent.TagResume, t0.Add(time.Hour), false),
		pumpevent.TempBasalDurationRecord(t0, 30),
		pumpevent.SimpleRecord(pumpevent.TagSuspend, t0, false),
		pumpevent.TempBasalRecord(t0, 1, false),
		[]byte{0xEE, 1, 2},
	)
	events = append(events, nil)
	doses := Reconcile(events, t0, model722)
	want := []DoseType{DoseResume, DoseSuspend}
	if !sameTypes(typesOf(doses), want) {
		t.Errorf("expected %v, got %v", want, typesOf(doses))
	}
}

func TestUnknownAndMarkerAreAnnotations(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.SimpleRecord(pumpevent.TagJournalEntryLowReservoir, t0, false),
		[]byte{0xEE, 1, 2},
	)
	tl := Timeline(events, t0, model722)
	if len(tl) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(tl))
	}
	if tl[0].Title != "Low Reservoir" {
		t.Errorf("unexpected marker title %q", tl[0].Title)
	}
	if tl[1].Dose != nil || len(tl[1].Raw) != 3 {
		t.Errorf("unknown record should keep its raw bytes, got %+v", tl[1])
	}
}

func TestSummarizeAndSuspended(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.BasalProfileStartRecord(t0, 0, 1),
		pumpevent.BolusRecord(model722, t0.Add(time.Minute), 2, 2, 0, false),
		pumpevent.BolusRecord(model722, t0.Add(2*time.Minute), 1.5, 1.5, 0, false),
		pumpevent.SimpleRecord(pumpevent.TagSuspend, t0.Add(3*time.Minute), false),
	)
	doses := Reconcile(events, t0, model722)
	c := Summarize(doses)
	if c.Basal != 1 || c.Bolus != 2 || c.Suspend != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
	if c.BolusUnits != 3.5 {
		t.Errorf("expected 3.5U, got %v", c.BolusUnits)
	}
	if !Suspended(doses) {
		t.Error("expected suspended")
	}

	resumed := append(doses, *resumeEntry(t0.Add(4*time.Minute), true))
	if Suspended(resumed) {
		t.Error("expected resumed")
	}
}

func TestDoseIDStable(t *testing.T) {
	events := decodeAll(t, model722, pumpevent.BolusRecord(model722, t0, 3, 3, time.Hour, false))
	early := Reconcile(events, t0, model722)[0]
	late := Reconcile(events, t0.Add(2*time.Hour), model722)[0]
	if early.ID() != late.ID() {
		t.Errorf("id changed between passes: %s vs %s", early.ID(), late.ID())
	}

	other := *resumeEntry(t0, true)
	if other.ID() == early.ID() {
		t.Error("different dose types at the same start must not share an id")
	}
}

func TestDoseIDDistinguishesSourceRecord(t *testing.T) {
	events := decodeAll(t, model722,
		pumpevent.SimpleRecord(pumpevent.TagSuspend, t0, false),
		pumpevent.SimpleRecord(pumpevent.TagRewind, t0, false),
		pumpevent.AlarmRecord(t0, pumpevent.AlarmNoDelivery),
	)
	doses := Reconcile(events, t0.Add(time.Hour), model722)
	if !sameTypes(typesOf(doses), []DoseType{DoseSuspend, DoseSuspend, DoseSuspend}) {
		t.Fatalf("expected three suspends, got %v", typesOf(doses))
	}
	seen := make(map[string]bool)
	for _, d := range doses {
		if seen[d.ID()] {
			t.Errorf("suspends from different records at the same second share id %s", d.ID())
		}
		seen[d.ID()] = true
	}

	again := Reconcile(events, t0.Add(2*time.Hour), model722)
	for i := range doses {
		if doses[i].ID() != again[i].ID() {
			t.Errorf("dose %d: id changed between passes", i)
		}
	}
}
