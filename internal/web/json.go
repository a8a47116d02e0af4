package web

import (
	"encoding/json"

	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/mqtt"
)

// DosesJSON is the JSON representation of the recent dose list. Entries use
// the same form as the MQTT dose topic.
type DosesJSON struct {
	Doses []mqtt.DoseJSON `json:"doses"`
	Count int             `json:"count"`
}

func formatDoses(doses []logic.DoseEntry) []byte {
	out := DosesJSON{Doses: make([]mqtt.DoseJSON, 0, len(doses)), Count: len(doses)}
	for _, d := range doses {
		out.Doses = append(out.Doses, mqtt.NewDoseJSON(d))
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}
