package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/rotary-sensor/internal/status"
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
	"level": status.Level,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Rotary Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.high { color: green; font-weight: bold; }
.low { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Rotary Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Position</h2>
<table>
<tr><th>Position</th><td id="position">{{.Position}}</td></tr>
<tr><th>Last step</th><td id="last-step">{{.LastStep}}</td></tr>
<tr><th>Direction</th><td>{{if .Encoder.Inverted}}reversed{{else}}normal{{end}}</td></tr>
</table>

<h2>Pins</h2>
<table>
<tr><th>A (GPIO {{.Config.PinA}})</th><td class="{{if .Encoder.A}}high{{else}}low{{end}}">{{level .Encoder.A}}</td></tr>
<tr><th>B (GPIO {{.Config.PinB}})</th><td class="{{if .Encoder.B}}high{{else}}low{{end}}">{{level .Encoder.B}}</td></tr>
<tr><th>In transition</th><td>{{if .Encoder.InTransition}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Step Counts</h2>
<table>
<tr><th>CW</th><td id="count-cw">{{.Encoder.Counts.CW}}</td></tr>
<tr><th>CCW</th><td id="count-ccw">{{.Encoder.Counts.CCW}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}} per click</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Encoder.Debounce}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<form method="post" action="/reverse" id="reverse-form"><button type="submit">Reverse direction</button></form>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var posEl = document.getElementById("position");
  var lastEl = document.getElementById("last-step");
  var cwEl = document.getElementById("count-cw");
  var ccwEl = document.getElementById("count-ccw");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  document.getElementById("reverse-form").addEventListener("submit", function(e) {
    e.preventDefault();
    fetch("/reverse", { method: "POST" }).then(function() { location.reload(); });
  });

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("pending", "reconnecting");
      setTimeout(connect, 5000);
    };
    ws.onerror = function() { setDot("err", "error"); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "step") {
          posEl.textContent = msg.data.position;
          lastEl.textContent = msg.data.event;
          var el = msg.data.step > 0 ? cwEl : ccwEl;
          el.textContent = parseInt(el.textContent, 10) + 1;
        } else if (msg.type === "state_init") {
          posEl.textContent = msg.data.status.position;
          lastEl.textContent = msg.data.status.last_step;
          cwEl.textContent = msg.data.status.step_counts.cw;
          ccwEl.textContent = msg.data.status.step_counts.ccw;
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
