package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>StreamLens Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: -apple-system, 'Segoe UI', sans-serif; background: #15161a; color: #e8e8ea; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 12px; }
        .title { font-size: 20px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 10px; font-size: 12px; background: #2a2c33; }
        .badge.playing { background: #14532d; color: #86efac; }
        .badge.error { background: #5c1d24; color: #fca5a5; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 14px; }
        .panel { background: #1d1f25; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 14px; color: #9aa0aa; text-transform: uppercase; }
        #stream { width: 100%; display: block; background: #000; border-radius: 6px; }
        button, select { background: #2a2c33; color: #e8e8ea; border: 1px solid #3a3d45; border-radius: 6px; padding: 6px 12px; cursor: pointer; margin: 2px; }
        button:hover { background: #343741; }
        #chart { width: 100%; height: 160px; background: #14151a; border-radius: 6px; }
        #feed { font-size: 12px; max-height: 180px; overflow-y: auto; color: #9aa0aa; }
        #analysis { font-size: 13px; white-space: pre-wrap; }
        input[type=text] { width: 100%; box-sizing: border-box; background: #14151a; color: #e8e8ea; border: 1px solid #3a3d45; border-radius: 6px; padding: 6px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">StreamLens Monitor</div>
            <span class="badge" id="status-badge">idle</span>
        </div>
        <div class="grid">
            <div class="panel">
                <h2>Stream</h2>
                <img id="stream" src="/stream" alt="Composited video stream">
                <div style="margin-top:8px;">
                    <select id="sources"></select>
                    <button onclick="setSource()">Connect</button>
                    <button onclick="post('/api/retry')">Retry</button>
                    <button onclick="post('/api/detection/enable')">Detect on</button>
                    <button onclick="post('/api/detection/disable')">Detect off</button>
                    <button onclick="post('/api/overlay/toggle')">Overlay</button>
                    <button onclick="post('/api/snapshot')">Snapshot</button>
                    <button onclick="analyze()">Analyze</button>
                </div>
            </div>
            <div class="panel">
                <h2>Count (last 60s)</h2>
                <canvas id="chart" width="340" height="160"></canvas>
                <h2 style="margin-top:12px;">Prompt</h2>
                <input type="text" id="prompt" placeholder="How many people do you see?">
                <button onclick="setPrompt()" style="margin-top:6px;">Set prompt</button>
                <h2 style="margin-top:12px;">Analysis</h2>
                <div id="analysis">No analysis yet.</div>
            </div>
            <div class="panel" style="grid-column: span 2;">
                <h2>Detections</h2>
                <div id="feed"></div>
            </div>
        </div>
    </div>
    <script>
        const CHART_POINTS = 60;

        async function post(path, body) {
            const opts = { method: 'POST' };
            if (body) {
                opts.headers = { 'Content-Type': 'application/json' };
                opts.body = JSON.stringify(body);
            }
            const res = await fetch(path, opts);
            return res.json();
        }

        async function loadSources() {
            const data = await (await fetch('/api/sources')).json();
            const sel = document.getElementById('sources');
            sel.innerHTML = '';
            for (const s of data.sources) {
                const opt = document.createElement('option');
                opt.value = s.id;
                opt.textContent = s.name;
                sel.appendChild(opt);
            }
        }

        function setSource() {
            post('/api/source', { id: document.getElementById('sources').value });
        }

        function setPrompt() {
            post('/api/prompt', { prompt: document.getElementById('prompt').value });
        }

        async function analyze() {
            document.getElementById('analysis').textContent = 'Analyzing...';
            try {
                const res = await post('/api/analyze');
                document.getElementById('analysis').textContent = res.analysis || res.error || 'No answer.';
            } catch (e) {
                document.getElementById('analysis').textContent = 'Analysis failed: ' + e;
            }
        }

        async function pollStatus() {
            try {
                const st = await (await fetch('/api/status')).json();
                const badge = document.getElementById('status-badge');
                const state = st.connection.state;
                badge.textContent = st.connection.error ? state + ' (' + st.connection.error + ')' : state;
                badge.className = 'badge' + (state === 'playing' ? ' playing' : state === 'error' ? ' error' : '');
            } catch (e) { /* server restarting */ }
        }

        async function drawChart() {
            const data = await (await fetch('/api/series?window=' + CHART_POINTS)).json();
            const canvas = document.getElementById('chart');
            const ctx = canvas.getContext('2d');
            ctx.clearRect(0, 0, canvas.width, canvas.height);
            const samples = data.samples || [];
            if (samples.length === 0) return;
            const max = Math.max(1, ...samples.map(s => s.count));
            const dx = canvas.width / (CHART_POINTS - 1);
            ctx.strokeStyle = '#4ade80';
            ctx.lineWidth = 2;
            ctx.beginPath();
            samples.forEach((s, i) => {
                const x = i * dx;
                const y = canvas.height - (s.count / max) * (canvas.height - 10) - 5;
                i === 0 ? ctx.moveTo(x, y) : ctx.lineTo(x, y);
            });
            ctx.stroke();
        }

        function subscribeDetections() {
            const es = new EventSource('/api/detections/stream');
            const feed = document.getElementById('feed');
            es.onmessage = (ev) => {
                const r = JSON.parse(ev.data);
                const line = document.createElement('div');
                line.textContent = new Date(r.timestamp).toLocaleTimeString() + ': ' + r.count + ' matched';
                feed.prepend(line);
                while (feed.childNodes.length > 50) feed.removeChild(feed.lastChild);
            };
        }

        loadSources();
        subscribeDetections();
        setInterval(pollStatus, 1000);
        setInterval(drawChart, 1000);
    </script>
</body>
</html>
`
