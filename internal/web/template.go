package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/status"
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
	"reading": func(r reconcile.Reading, unit string) string {
		if !r.Valid {
			return "unknown"
		}
		return fmt.Sprintf("%.1f%s", r.Value, unit)
	},
	"linkClass": func(l reconcile.LinkState) string {
		switch l {
		case reconcile.LinkConnected:
			return "connected"
		case reconcile.LinkError:
			return "disconnected"
		}
		return "unknown"
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Heater Dashboard</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.stale { color: orange; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Heater Dashboard<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>
{{with .Device}}
<h2>Temperatures</h2>
<table>
<tr><th>Red</th><td id="t-red">{{reading .Temperatures.Red " °C"}}</td></tr>
<tr><th>Blue</th><td id="t-blue">{{reading .Temperatures.Blue " °C"}}</td></tr>
<tr><th>Green</th><td id="t-green">{{reading .Temperatures.Green " °C"}}</td></tr>
<tr><th>Average</th><td id="t-average">{{reading .Temperatures.Average " °C"}}</td></tr>
<tr><th>Target</th><td id="t-target">{{reading .TargetTemperature " °C"}}</td></tr>
</table>

<h2>Heater</h2>
<table>
<tr><th>State</th><td id="heater" class="{{if eq .Heater.String "ON"}}on{{else if eq .Heater.String "OFF"}}off{{else}}unknown{{end}}">{{.Heater}}</td></tr>
<tr><th>Mode</th><td id="mode">{{orUnknown (printf "%s" .ControlMode)}}{{if .HeaterEnabled.Valid}}{{if not .HeaterEnabled.On}} (disabled){{end}}{{end}}</td></tr>
{{if .Schedule}}<tr><th>Morning</th><td>{{if .Schedule.AM.Enabled}}{{.Schedule.AM.Time}} at {{.Schedule.AM.Temperature}} °C{{else}}disabled{{end}}</td></tr>
<tr><th>Evening</th><td>{{if .Schedule.PM.Enabled}}{{.Schedule.PM.Time}} at {{.Schedule.PM.Temperature}} °C{{else}}disabled{{end}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Device</th><td id="c-device" class="{{linkClass .Connectivity.DeviceNetwork}}">{{.Connectivity.DeviceNetwork}}</td></tr>
<tr><th>Cloud</th><td id="c-cloud" class="{{linkClass .Connectivity.CloudLink}}">{{.Connectivity.CloudLink}}{{if .CloudError}} ({{.CloudError}}){{end}}</td></tr>
<tr><th>MQTT</th><td id="c-bus" class="{{linkClass .Connectivity.BusLink}}">{{.Connectivity.BusLink}}{{if .BusRetryExhausted}} (retries exhausted){{end}}</td></tr>
{{if .DeviceReported.Cloud}}<tr><th>Device cloud</th><td class="{{linkClass .DeviceReported.Cloud}}">{{.DeviceReported.Cloud}}</td></tr>{{end}}
{{if .DeviceReported.Bus}}<tr><th>Device MQTT</th><td class="{{linkClass .DeviceReported.Bus}}">{{.DeviceReported.Bus}}</td></tr>{{end}}
<tr><th>Presence</th><td id="presence">{{orUnknown (printf "%s" .Presence)}}</td></tr>
<tr><th>Signal</th><td id="signal">{{reading .SignalStrength " dBm"}}</td></tr>
<tr><th>Device uptime</th><td>{{reading .UptimeSeconds " s"}}{{if .Reboots}} ({{.Reboots}} reboots){{end}}</td></tr>
{{if .WifiStatus}}<tr><th>WiFi</th><td>{{.WifiStatus}}</td></tr>{{end}}
<tr><th>Last update</th><td id="last-update">{{if .LastUpdate.IsZero}}never{{else}}{{.LastUpdate.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>
{{end}}
{{if .Stale}}<p class="stale">No device data for over {{.Config.StaleAfter}}.</p>{{end}}

<h2>Service</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Namespace</th><td>{{.Config.Namespace}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
<tr><th>History</th><td>{{.Samples}} samples</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/series.json">Series</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }
  function fmt(v, unit) { return v === null || v === undefined ? "unknown" : v.toFixed(1) + unit; }
  function set(id, text, cls) {
    var el = document.getElementById(id);
    if (!el) return;
    el.textContent = text;
    if (cls !== undefined) el.className = cls;
  }
  function linkClass(s) { return s === "CONNECTED" ? "connected" : s === "ERROR" ? "disconnected" : "unknown"; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.type !== "status") return;
      var s = msg.data.status;
      set("t-red", fmt(s.temperatures.red, " °C"));
      set("t-blue", fmt(s.temperatures.blue, " °C"));
      set("t-green", fmt(s.temperatures.green, " °C"));
      set("t-average", fmt(s.temperatures.average, " °C"));
      set("t-target", fmt(s.target_temperature, " °C"));
      set("heater", s.heater_state, s.heater_state === "ON" ? "on" : s.heater_state === "OFF" ? "off" : "unknown");
      set("c-device", s.connectivity.device_network, linkClass(s.connectivity.device_network));
      set("c-cloud", s.connectivity.cloud_link, linkClass(s.connectivity.cloud_link));
      set("c-bus", s.connectivity.bus_link, linkClass(s.connectivity.bus_link));
      set("presence", s.presence);
      set("signal", fmt(s.signal_strength, " dBm"));
      set("last-update", s.last_update ? new Date(s.last_update * 1000).toISOString() : "never");
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Stale() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Stale  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Stale:    snap.Stale(),
	}
	return indexTmpl.Execute(w, data)
}
