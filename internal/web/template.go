package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"amount": func(d logic.DoseEntry) string {
		if d.Delivered != nil && *d.Delivered != d.Programmed {
			return fmt.Sprintf("%.3g of %.3g %s", *d.Delivered, d.Programmed, d.Unit)
		}
		if d.Type == logic.DoseSuspend || d.Type == logic.DoseResume {
			return ""
		}
		return fmt.Sprintf("%.3g %s", d.Programmed, d.Unit)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pump Sync</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.suspended { color: red; font-weight: bold; }
.delivering { color: green; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.mutable { color: #888; font-style: italic; }
</style>
</head>
<body>
<h1>Pump Sync</h1>

<h2>Pump</h2>
<table>
<tr><th>Model</th><td>{{orUnknown .Model}}</td></tr>
<tr><th>Peripheral</th><td>{{.Config.Peripheral}}</td></tr>
<tr><th>Bridge</th><td class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Delivery</th><td class="{{if not .Synced}}unknown{{else if .Suspended}}suspended{{else}}delivering{{end}}">{{if not .Synced}}UNKNOWN{{else if .Suspended}}SUSPENDED{{else}}delivering{{end}}</td></tr>
<tr><th>Last Sync</th><td>{{clock .LastSync}}</td></tr>
{{if .LastError}}<tr><th>Last Error</th><td class="disconnected">{{.LastError}} ({{clock .LastErrorTime}})</td></tr>{{end}}
</table>

<h2>Recent Doses</h2>
{{if .Doses}}<table>
<tr><th>Start</th><th>Type</th><th>Amount</th></tr>
{{range .Doses}}<tr class="{{if .IsMutable}}mutable{{end}}"><td>{{clock .StartDate}}</td><td>{{.Type}}</td><td>{{amount .}}</td></tr>
{{end}}</table>{{else}}<p>No doses in the last 24 hours.</p>{{end}}

<h2>Dose Counts</h2>
<table>
<tr><th>Basal</th><td>{{.Counts.Basal}}</td></tr>
<tr><th>Temp Basal</th><td>{{.Counts.TempBasal}}</td></tr>
<tr><th>Bolus</th><td>{{.Counts.Bolus}} ({{printf "%.2f" .Counts.BolusUnits}} U)</td></tr>
<tr><th>Suspend</th><td>{{.Counts.Suspend}}</td></tr>
<tr><th>Resume</th><td>{{.Counts.Resume}}</td></tr>
</table>

{{if .CommandErrors}}<h2>Command Errors</h2>
<table>
{{range $kind, $n := .CommandErrors}}<tr><th>{{$kind}}</th><td>{{$n}}</td></tr>
{{end}}<tr><th>Bridge resets</th><td>{{.BridgeResets}}</td></tr>
</table>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}: {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{clock .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Lookback</th><td>{{.Config.LookbackMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Time zone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/doses.json">Doses</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, doses []logic.DoseEntry) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Doses  []logic.DoseEntry
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Doses:    doses,
	}
	indexTmpl.Execute(w, data)
}
