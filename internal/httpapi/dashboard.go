package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>meetsync</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 20px;
    }
    .shell { max-width: 860px; margin: 0 auto; display: grid; gap: 14px; }
    .card { background: var(--card); border: 1px solid var(--line); border-radius: 14px; padding: 16px; }
    h1 { margin: 0; font-size: 1.4rem; }
    dl { display: grid; grid-template-columns: max-content 1fr; gap: 6px 16px; margin: 0; }
    dt { color: var(--muted); }
    button { border: 0; border-radius: 10px; padding: 8px 14px; background: var(--accent); color: #fff; cursor: pointer; }
    input { border: 1px solid var(--line); border-radius: 10px; padding: 7px 10px; width: 260px; }
    #log { font-family: ui-monospace, monospace; font-size: 0.85rem; max-height: 320px; overflow: auto; margin: 0; }
    .error { color: var(--danger); }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>meetsync</h1>
      <p>
        <input id="token" type="password" placeholder="control token (optional)" />
        <button id="sync">Sync now</button>
        <span id="notice"></span>
      </p>
    </div>
    <div class="card">
      <dl>
        <dt>Synced meetings</dt><dd id="total">-</dd>
        <dt>Last sync</dt><dd id="lastSync">-</dd>
        <dt>Last poll</dt><dd id="lastPoll">-</dd>
        <dt>Last run</dt><dd id="lastRun">-</dd>
        <dt>Ledger</dt><dd id="location">-</dd>
      </dl>
    </div>
    <div class="card"><pre id="log"></pre></div>
  </div>
  <script>
    const $ = (id) => document.getElementById(id);
    const headers = () => {
      const token = $("token").value.trim();
      return token ? { Authorization: "Bearer " + token } : {};
    };
    async function refresh() {
      const res = await fetch("/v1/status", { headers: headers() });
      if (!res.ok) { $("notice").textContent = "status: " + res.status; return; }
      const body = await res.json();
      $("total").textContent = body.ledger.totalProcessed;
      $("lastSync").textContent = body.ledger.lastSync || "never";
      $("lastPoll").textContent = body.lastPollTime || "never";
      $("location").textContent = body.ledger.location;
      const run = body.lastRun;
      $("lastRun").textContent = run
        ? run.processed + " processed, " + run.notReady + " not ready, " + run.errors + " errors"
        : "none yet";
    }
    $("sync").onclick = async () => {
      const res = await fetch("/v1/sync", { method: "POST", headers: headers() });
      $("notice").textContent = res.status === 202 ? "queued" : "failed: " + res.status;
    };
    let ws;
    function connect() {
      if (ws) ws.close();
      const scheme = location.protocol === "https:" ? "wss://" : "ws://";
      const token = $("token").value.trim();
      const query = token ? "?access_token=" + encodeURIComponent(token) : "";
      ws = new WebSocket(scheme + location.host + "/v1/events" + query);
      ws.onmessage = (msg) => {
        const ev = JSON.parse(msg.data);
        const line = document.createElement("div");
        if (ev.type === "sync.error") line.className = "error";
        line.textContent = ev.time + "  " + ev.type + "  " + (ev.message || (ev.meeting && ev.meeting.title) || "");
        $("log").prepend(line);
        refresh();
      };
    }
    $("token").onchange = () => { connect(); refresh(); };
    connect();
    refresh();
    setInterval(refresh, 15000);
  </script>
</body>
</html>
`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, dashboardHTML)
}
