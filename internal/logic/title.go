package logic

import (
	"strings"

	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// Title is the human-readable label of a decoded event.
func Title(ev pumpevent.DecodedEvent) string {
	switch e := ev.(type) {
	case pumpevent.Bolus:
		if e.Duration > 0 {
			return "Square Bolus"
		}
		return "Bolus"
	case pumpevent.Suspend:
		return "Suspend"
	case pumpevent.Resume:
		return "Resume"
	case pumpevent.TempBasalRate:
		if e.IsPercent {
			return "Temp Basal Percent"
		}
		return "Temp Basal"
	case pumpevent.TempBasalDuration:
		return "Temp Basal Duration"
	case pumpevent.BasalSegmentStart:
		return "Scheduled Basal"
	case pumpevent.Rewind:
		return "Rewind"
	case pumpevent.Prime:
		return "Prime"
	case pumpevent.Alarm:
		return "Alarm: " + e.Type.String()
	case pumpevent.AlarmCleared:
		return "Clear Alarm: " + e.Type.String()
	case pumpevent.ClockChange:
		if e.IsNewTime {
			return "New Time"
		}
		return "Change Time"
	case pumpevent.Marker:
		return markerTitle(e.Kind)
	case pumpevent.Unknown:
		return e.Tag.String()
	case nil:
		return ""
	}
	return ev.Head().Tag.String()
}

func markerTitle(k pumpevent.MarkerKind) string {
	words := strings.Split(string(k), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
