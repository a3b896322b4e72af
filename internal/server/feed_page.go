package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const feedPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Swap Feed · PodSwap</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>⇄</text></svg>">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --created: #3b82f6; --claimed: #22c55e; --refunded: #f59e0b; --expired: #ef4444;
        }
        body {
            font-family: -apple-system, 'Inter', sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
        }
        .mono { font-family: 'JetBrains Mono', ui-monospace, monospace; }
        .container { max-width: 860px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); padding: 16px 0; position: sticky; top: 0; background: var(--bg); }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; font-size: 15px; }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 6px 12px; border-radius: 20px; font-size: 12px; color: var(--text-secondary);
        }
        .live-dot { width: 8px; height: 8px; border-radius: 50%; background: var(--text-tertiary); }
        .live-dot.on { background: var(--claimed); animation: pulse 2s ease-in-out infinite; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }
        .filter { padding: 24px 0 12px; display: flex; gap: 8px; }
        .filter input {
            flex: 1; background: var(--bg-subtle); border: 1px solid var(--border); color: var(--text);
            padding: 8px 12px; border-radius: 6px;
        }
        .filter button { background: var(--bg-subtle); color: var(--text); border: 1px solid var(--border); padding: 8px 14px; border-radius: 6px; cursor: pointer; }
        .ev { display: grid; grid-template-columns: 110px 1fr auto; gap: 16px; padding: 16px 0; border-bottom: 1px solid var(--border); }
        .ev.new { animation: slideIn 0.3s ease-out; }
        @keyframes slideIn { from { opacity: 0; transform: translateY(-8px); } to { opacity: 1; transform: none; } }
        .tag { font-size: 11px; text-transform: uppercase; padding: 2px 8px; border-radius: 4px; border: 1px solid var(--border); height: fit-content; text-align: center; }
        .swap-created { color: var(--created); } .swap-claimed { color: var(--claimed); }
        .swap-refunded { color: var(--refunded); } .swap-expired { color: var(--expired); }
        .parties { color: var(--text-secondary); font-size: 13px; margin-top: 4px; }
        .asset { text-align: right; }
        .time { font-size: 12px; color: var(--text-tertiary); margin-top: 4px; }
        .empty { text-align: center; padding: 80px 24px; color: var(--text-tertiary); }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <span class="logo">PodSwap</span>
        <div class="live-badge"><span class="live-dot" id="dot"></span><span id="status">Connecting</span></div>
    </div></header>
    <main class="container">
        <div class="filter">
            <input id="party" placeholder="Filter by party address (0x...)">
            <button onclick="subscribe()">Apply</button>
        </div>
        <div id="feed"><div class="empty">Waiting for swap events...</div></div>
    </main>
    <script>
        const short = a => a ? a.slice(0, 6) + '…' + a.slice(-4) : '';
        let ws, first = true;

        function subscribe() {
            if (!ws || ws.readyState !== 1) return;
            const party = document.getElementById('party').value.trim();
            ws.send(JSON.stringify(party ? { parties: [party] } : { allEvents: true }));
        }

        function render(ev) {
            const s = ev.swap || {};
            const a = s.asset || {};
            const what = (s.class || ev.engine) + (a.tokenId ? ' #' + a.tokenId : '') + (a.amount ? ' × ' + a.amount : '');
            const row = document.createElement('div');
            row.className = 'ev new';
            row.innerHTML =
                '<span class="tag ' + ev.type.replace('.', '-') + '">' + ev.type.split('.')[1] + '</span>' +
                '<div><div class="mono">' + short(ev.swapId) + '</div>' +
                '<div class="parties mono">' + short(s.proposer) + ' → ' + short(s.withdrawer) + '</div></div>' +
                '<div class="asset"><div class="mono">' + what + '</div>' +
                '<div class="time">' + new Date(ev.timestamp).toLocaleTimeString() + '</div></div>';
            const feed = document.getElementById('feed');
            if (first) { feed.innerHTML = ''; first = false; }
            feed.prepend(row);
            while (feed.children.length > 100) feed.lastChild.remove();
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(proto + location.host + '/ws');
            ws.onopen = () => {
                document.getElementById('dot').className = 'live-dot on';
                document.getElementById('status').textContent = 'Live';
                subscribe();
            };
            ws.onmessage = m => render(JSON.parse(m.data));
            ws.onclose = () => {
                document.getElementById('dot').className = 'live-dot';
                document.getElementById('status').textContent = 'Reconnecting';
                setTimeout(connect, 2000);
            };
        }

        connect();
    </script>
</body>
</html>`

// feedPageHandler serves a live view of swap events streamed from /ws.
func feedPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, feedPageHTML)
}
