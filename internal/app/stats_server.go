package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"kaswatch/internal/surface"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultBoardLimit = 50

// WebSocket upgrader for real-time stats and board pushes
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// copyRequest asks the board to copy one field of an entry.
type copyRequest struct {
	EntryID string `json:"entry_id"`
	Field   string `json:"field"`
}

// startHealthServer starts an HTTP server for health checks, stats, the
// board and the feed hub.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r.newHealthMux(),
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.clients.Logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (r *Runner) newHealthMux() *http.ServeMux {
	mux := http.NewServeMux()
	logger := r.clients.Logger

	cfg := r.liveConfig.Get()
	settingsHandler := NewSettingsHandler(logger, r.liveConfig, r.baseline, cfg.HealthServer.SettingsToken)
	settingsHandler.RegisterRoutes(mux)

	// Feed websocket consumed by boards
	mux.Handle("/ws", r.hub)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JSON stats endpoint
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := r.GetStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stats)
	})

	// Board snapshot
	mux.HandleFunc("/api/board", func(w http.ResponseWriter, req *http.Request) {
		limit, err := parseLimit(req.URL.Query().Get("limit"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.board.Snapshot(limit))
	})

	// Click on a copyable field
	mux.HandleFunc("/api/copy", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body copyRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		err := r.board.Activate(body.EntryID, body.Field)
		switch {
		case errors.Is(err, surface.ErrNoSuchEntry), errors.Is(err, surface.ErrNoSuchField):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	})

	// WebSocket endpoint for real-time stats
	mux.HandleFunc("/ws/stats", func(w http.ResponseWriter, req *http.Request) {
		r.push(w, req, func() any { return r.GetStats() })
	})

	// WebSocket endpoint for real-time board snapshots
	mux.HandleFunc("/ws/board", func(w http.ResponseWriter, req *http.Request) {
		r.push(w, req, func() any { return r.board.Snapshot(defaultBoardLimit) })
	})

	// HTML dashboard
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	return mux
}

// push writes the value of next to the client every second until it
// disconnects.
func (r *Runner) push(w http.ResponseWriter, req *http.Request, next func() any) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.clients.Logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(next()); err != nil {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(next()); err != nil {
				return // Client disconnected
			}
		}
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultBoardLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>kaswatch</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --bg-tertiary: #21262d;
            --border-color: #30363d;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --text-heading: #f0f6fc;
            --accent-blue: #58a6ff;
            --accent-green: #3fb950;
            --accent-red: #f85149;
            --accent-yellow: #d29922;
            --accent-teal: #49eacb;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, monospace;
            background: var(--bg-primary);
            color: var(--text-primary);
            padding: 20px;
            line-height: 1.5;
        }
        h1 { color: var(--accent-teal); font-size: 24px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 20px; }
        .status { display: flex; align-items: center; gap: 8px; }
        .status-dot { width: 10px; height: 10px; border-radius: 50%; }
        .status-dot.connected { background: var(--accent-green); }
        .status-dot.disconnected { background: var(--accent-red); animation: blink 1s infinite; }
        @keyframes blink { 50% { opacity: 0.5; } }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 20px; }
        .card { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 8px; padding: 16px; margin-bottom: 20px; }
        .card h3 { color: var(--accent-blue); font-size: 16px; margin-bottom: 12px; }
        .stat-row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid var(--bg-tertiary); }
        .stat-row:last-child { border-bottom: none; }
        .stat-label { color: var(--text-secondary); }
        .stat-value { color: var(--text-heading); font-weight: 600; }
        #chart { width: 100%; height: 260px; background: var(--bg-tertiary); border-radius: 6px; }
        .legend { display: flex; flex-wrap: wrap; gap: 10px; margin-top: 8px; font-size: 12px; }
        .legend span { display: inline-flex; align-items: center; gap: 4px; }
        .legend i { width: 10px; height: 10px; border-radius: 2px; display: inline-block; }
        .feed { max-height: 640px; overflow-y: auto; }
        .krc20-live__transaction { background: var(--bg-tertiary); padding: 12px; border-radius: 6px; margin-bottom: 8px; border-left: 3px solid var(--accent-blue); transition: background 0.6s; }
        .krc20-live__transaction.highlight { background: #49eacb33; border-left-color: var(--accent-teal); }
        .krc20-live__head { display: flex; justify-content: space-between; align-items: baseline; }
        .krc20-live__ticker { color: var(--accent-teal); font-size: 16px; }
        .krc20-live__body { display: flex; justify-content: space-between; margin-top: 6px; font-size: 14px; }
        .krc20-live__meta { text-align: right; color: var(--text-secondary); }
        .krc20-live__link-tooltip { color: var(--accent-blue); text-decoration: none; }
        [data-copy] { cursor: pointer; }
        [data-copy]:hover { text-decoration: underline; }
        .toast { position: fixed; bottom: 20px; right: 20px; background: var(--accent-green); color: #fff; padding: 8px 16px; border-radius: 6px; opacity: 0; transition: opacity 0.3s; }
        .toast.show { opacity: 1; }
    </style>
</head>
<body>
    <div class="header">
        <h1>kaswatch</h1>
        <div class="status"><div id="wsDot" class="status-dot disconnected"></div><span id="wsStatus">Connecting...</span></div>
    </div>

    <div class="grid">
        <div>
            <div class="card">
                <h3>📈 KAS / USDT</h3>
                <svg id="chart" viewBox="0 0 1000 260" preserveAspectRatio="none"></svg>
                <div id="legend" class="legend"></div>
            </div>
            <div class="card">
                <h3>⚡ Live KRC20 Transactions</h3>
                <div id="feed" class="feed"></div>
            </div>
        </div>
        <div>
            <div class="card">
                <h3>💱 Latest Rates</h3>
                <div id="readouts"></div>
            </div>
            <div class="card">
                <h3>📊 Service</h3>
                <div class="stat-row"><span class="stat-label">Uptime</span><span id="uptime" class="stat-value">-</span></div>
                <div class="stat-row"><span class="stat-label">Transfers</span><span id="transfers" class="stat-value">-</span></div>
                <div class="stat-row"><span class="stat-label">Distinct tickers</span><span id="tickers" class="stat-value">-</span></div>
                <div class="stat-row"><span class="stat-label">Alerts</span><span id="alerts" class="stat-value">-</span></div>
                <div class="stat-row"><span class="stat-label">Feed</span><span id="feedState" class="stat-value">-</span></div>
                <div class="stat-row"><span class="stat-label">Bus</span><span id="bus" class="stat-value">-</span></div>
            </div>
        </div>
    </div>
    <div id="toast" class="toast">Copied!</div>

    <script>
        const colors = ['#49eacb', '#58a6ff', '#3fb950', '#d29922', '#f85149', '#a371f7', '#f0883e',
                        '#79c0ff', '#56d364', '#e3b341', '#ff7b72', '#d2a8ff', '#ffa657'];
        let lastToasts = 0;

        function renderChart(chart) {
            const svg = document.getElementById('chart');
            const legend = document.getElementById('legend');
            const lo = chart.bounds.min, hi = chart.bounds.max;
            const span = (hi - lo) || 1;
            let paths = '', keys = '';
            (chart.series || []).forEach((s, i) => {
                const pts = s.points || [];
                const n = Math.max(pts.length - 1, 1);
                let d = '', pen = false;
                pts.forEach((p, j) => {
                    if (p.y === null) { pen = false; return; }
                    const x = (j / n) * 1000;
                    const y = 260 - ((p.y - lo) / span) * 260;
                    d += (pen ? 'L' : 'M') + x.toFixed(1) + ' ' + y.toFixed(1) + ' ';
                    pen = true;
                });
                const c = colors[i % colors.length];
                if (d) paths += '<path d="' + d + '" fill="none" stroke="' + c + '" stroke-width="2"/>';
                keys += '<span><i style="background:' + c + '"></i>' + s.name + '</span>';
            });
            svg.innerHTML = paths;
            legend.innerHTML = keys;
        }

        function renderReadouts(readouts) {
            const rows = Object.keys(readouts || {}).sort().map(k =>
                '<div class="stat-row"><span class="stat-label">' + k + '</span><span class="stat-value">' + readouts[k].text + '</span></div>');
            document.getElementById('readouts').innerHTML = rows.join('') || '<span class="stat-label">Waiting for rates...</span>';
        }

        function renderFeed(entries) {
            // Entry HTML is escaped server-side
            document.getElementById('feed').innerHTML = (entries || []).map(e =>
                e.html.replace('class="krc20-live__transaction"', 'class="krc20-live__transaction' + (e.highlighted ? ' highlight' : '') + '"')
            ).join('');
        }

        function showToast() {
            const t = document.getElementById('toast');
            t.classList.add('show');
            setTimeout(() => t.classList.remove('show'), 1200);
        }

        document.getElementById('feed').addEventListener('click', (ev) => {
            const el = ev.target.closest('[data-copy]');
            if (!el) return;
            ev.preventDefault();
            const tx = el.closest('.krc20-live__transaction');
            const id = tx.id.replace(/^tx-/, '');
            fetch('/api/copy', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({entry_id: id, field: el.dataset.copy})
            }).then(r => {
                if (!r.ok) throw new Error('copy rejected: ' + r.status);
                return navigator.clipboard && navigator.clipboard.writeText(el.textContent);
            }).catch(err => console.error('copy failed:', err));
        });

        function connect() {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(protocol + '//' + window.location.host + '/ws/board');
            const dot = document.getElementById('wsDot');
            const status = document.getElementById('wsStatus');

            ws.onopen = () => { dot.className = 'status-dot connected'; status.textContent = 'Live'; };
            ws.onclose = () => {
                dot.className = 'status-dot disconnected';
                status.textContent = 'Reconnecting...';
                setTimeout(connect, 2000);
            };
            ws.onerror = () => ws.close();
            ws.onmessage = (e) => {
                const b = JSON.parse(e.data);
                renderChart(b.chart);
                renderReadouts(b.readouts);
                renderFeed(b.entries);
                if (b.toasts > lastToasts) { showToast(); }
                lastToasts = b.toasts;
            };
        }

        function refreshStats() {
            fetch('/stats').then(r => r.json()).then(s => {
                document.getElementById('uptime').textContent = s.uptime;
                document.getElementById('transfers').textContent = s.transfers.transfers.toLocaleString();
                document.getElementById('tickers').textContent = '~' + s.transfers.distinct_tickers;
                document.getElementById('alerts').textContent = s.transfers.alerts_total.toLocaleString();
                document.getElementById('feedState').textContent = s.feed.enabled ? (s.feed.connected ? 'connected' : 'reconnecting') : 'off';
                document.getElementById('bus').textContent = s.producers.bus + ' (' + s.producers.hub.clients + ' clients)';
            }).catch(err => console.error('stats failed:', err));
        }

        connect();
        refreshStats();
        setInterval(refreshStats, 5000);
    </script>
</body>
</html>
`
