package console

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Detection Console</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111418; color: #ddd; }
        .app { max-width: 1280px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #2a2f37; font-size: 13px; }
        .controls { display: flex; gap: 8px; margin: 12px 0; flex-wrap: wrap; }
        .btn { padding: 8px 14px; border: 0; border-radius: 8px; background: #2f6fed; color: #fff; cursor: pointer; }
        .btn.secondary { background: #3a3f47; }
        #preview img, #preview video { max-width: 100%; border-radius: 12px; background: #000; }
        table { width: 100%; border-collapse: collapse; margin-top: 16px; font-size: 14px; }
        th, td { padding: 6px 8px; border-bottom: 1px solid #2a2f37; text-align: left; }
        tr.child { background: rgba(255, 196, 0, 0.15); }
        .error { color: #ff6b6b; min-height: 1.2em; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Detection Console</h1>
            <span class="badge" id="state-badge">None</span>
        </div>

        <div class="controls">
            <button class="btn" id="btn-live">Real-time</button>
            <button class="btn secondary" id="btn-local">Local file</button>
            <input type="file" id="file-input" accept="image/*,video/*" style="display:none">
            <button class="btn" id="btn-run">Run</button>
            <button class="btn secondary" id="btn-stop">Stop</button>
        </div>
        <div class="error" id="error"></div>

        <div id="preview">
            <img id="preview-stream" src="/preview/stream" alt="Preview">
            <video id="preview-video" controls style="display:none"></video>
        </div>

        <table>
            <thead><tr id="detections-head"></tr></thead>
            <tbody id="detections-body"></tbody>
        </table>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        const errorBox = $('error');
        let videoVersion = null;

        function showError(msg) { errorBox.textContent = msg || ''; }

        function applyState(s) {
            $('state-badge').textContent = s.state + (s.polling ? ' · polling' : '');
            const video = $('preview-video');
            const img = $('preview-stream');
            if (s.media && s.media.kind === 'video') {
                const v = s.file_name || '';
                if (videoVersion !== v) {
                    video.src = '/preview/file?v=' + encodeURIComponent(v) + '&t=' + Date.now();
                    videoVersion = v;
                }
                video.style.display = '';
                img.style.display = 'none';
            } else {
                video.pause();
                video.removeAttribute('src');
                videoVersion = null;
                video.style.display = 'none';
                img.style.display = '';
            }
        }

        function renderRows(payload) {
            const head = $('detections-head');
            if (!head.children.length) {
                payload.columns.forEach((c) => {
                    const th = document.createElement('th');
                    th.textContent = c;
                    head.appendChild(th);
                });
            }
            const body = $('detections-body');
            body.innerHTML = '';
            payload.rows.forEach((r) => {
                const tr = document.createElement('tr');
                if (r.highlight) tr.className = 'child';
                [r.id, r.label, r.confidence, r.timestamp, r.posture, r.motion, r.scale_hint].forEach((v) => {
                    const td = document.createElement('td');
                    td.textContent = v;
                    tr.appendChild(td);
                });
                const crop = document.createElement('td');
                if (r.thumbnail && r.thumbnail.url) {
                    const img = document.createElement('img');
                    img.src = r.thumbnail.url;
                    img.alt = r.thumbnail.alt;
                    img.loading = 'lazy';
                    img.style.maxWidth = r.thumbnail.width + 'px';
                    crop.appendChild(img);
                } else {
                    crop.textContent = r.thumbnail ? r.thumbnail.text : '';
                }
                tr.appendChild(crop);
                body.appendChild(tr);
            });
        }

        let ws = null;
        function connectSocket() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(proto + '//' + location.host + '/ws');
            ws.onmessage = (ev) => {
                const msg = JSON.parse(ev.data);
                if (msg.type === 'state') { applyState(msg); showError(''); }
                else if (msg.type === 'error') { showError(msg.message); }
            };
            ws.onclose = () => { ws = null; };
        }

        function send(action) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ action }));
                return;
            }
            fetch(action === 'live' ? '/api/source/live' : '/api/' + action, { method: 'POST' })
                .then((r) => r.json())
                .then((body) => body.error ? showError(body.error) : applyState(body))
                .catch((e) => showError(String(e)));
        }

        $('btn-live').addEventListener('click', () => send('live'));
        $('btn-run').addEventListener('click', () => send('run'));
        $('btn-stop').addEventListener('click', () => send('stop'));
        $('btn-local').addEventListener('click', () => $('file-input').click());
        $('file-input').addEventListener('change', (ev) => {
            const f = ev.target.files && ev.target.files[0];
            if (!f) return;
            const form = new FormData();
            form.append('file', f);
            fetch('/api/source/file', { method: 'POST', body: form })
                .then((r) => r.json())
                .then((body) => body.error ? showError('Upload failed: ' + body.error) : applyState(body))
                .catch((e) => showError('Upload error: ' + e));
            ev.target.value = '';
        });

        fetch('/api/state').then((r) => r.json()).then(applyState);
        fetch('/api/detections').then((r) => r.json()).then(renderRows);
        new EventSource('/api/detections/stream').onmessage = (ev) => renderRows(JSON.parse(ev.data));
        connectSocket();
    </script>
</body>
</html>
`
