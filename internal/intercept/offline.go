package intercept

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OfflinePlaceholderHeader marks synthesized image responses.
const OfflinePlaceholderHeader = "X-Offline-Placeholder"

type offlineBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	Suggestion string `json:"suggestion"`
}

func offlineAPIResponse(req *http.Request, now time.Time) *http.Response {
	body, _ := json.Marshal(offlineBody{
		Error:      "offline",
		Message:    "No network connection and no cached copy of this resource is available.",
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		Suggestion: "Reconnect and try again. Activities saved while offline sync automatically.",
	})
	return synthesized(req, http.StatusServiceUnavailable, "application/json", body)
}

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">` +
	`<rect width="200" height="200" fill="#f1ece1"/>` +
	`<text x="100" y="105" font-family="sans-serif" font-size="16" fill="#6f7d7d" text-anchor="middle">Offline</text>` +
	`</svg>`

func placeholderImage(req *http.Request) *http.Response {
	resp := synthesized(req, http.StatusOK, "image/svg+xml", []byte(placeholderSVG))
	resp.Header.Set(OfflinePlaceholderHeader, "1")
	return resp
}

const offlinePageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Offline</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --line: #d7cbb3;
      --muted: #6f7d7d;
    }
    body {
      margin: 0;
      min-height: 100vh;
      display: grid;
      place-items: center;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
    }
    .card {
      max-width: 420px;
      padding: 24px;
      border: 1px solid var(--line);
      border-radius: 16px;
      background: #fffdf9;
    }
    p { color: var(--muted); }
  </style>
</head>
<body>
  <div class="card">
    <h1>You are offline</h1>
    <p>This page is not available without a connection. Activities you record are kept on this device and sync once the network is back.</p>
  </div>
</body>
</html>
`

func fallbackOfflinePage(req *http.Request) *http.Response {
	return synthesized(req, http.StatusServiceUnavailable, "text/html; charset=utf-8", []byte(offlinePageHTML))
}

func synthesized(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
