package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>docindex MCP Server</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #f8fafc; color: #0f172a; margin: 0; padding: 3rem 1rem; }
  main { max-width: 560px; margin: 0 auto; }
  h1 { font-size: 1.5rem; margin-bottom: 0.25rem; }
  p { color: #475569; }
  code, pre { font-family: "SF Mono", Menlo, monospace; font-size: 0.85rem; }
  pre { background: #e2e8f0; border-radius: 6px; padding: 0.75rem 1rem; overflow-x: auto; }
  li { margin: 0.25rem 0; }
</style>
</head>
<body>
<main>
  <h1>docindex MCP Server</h1>
  <p>Browse documents and drive their indexing over the Model Context Protocol.</p>
  <h2>Tools</h2>
  <ul>
    <li><code>list_documents</code></li>
    <li><code>get_document</code></li>
    <li><code>index_document</code></li>
    <li><code>list_chunks</code></li>
  </ul>
  <h2>Endpoints</h2>
  <ul>
    <li><a href="/mcp"><code>/mcp</code></a> Streamable HTTP transport</li>
    <li><a href="/health"><code>/health</code></a> health check</li>
  </ul>
</main>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
