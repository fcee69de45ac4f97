package handler

import (
	"html/template"
	"log/slog"
	"net/http"
)

// The editor page is a single self-contained template so the binary ships
// without an assets directory.
const playgroundPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: monospace; max-width: 60rem; margin: 2rem auto; }
    textarea { width: 100%; height: 20rem; font-family: inherit; }
    pre { background: #f4f4f4; padding: 1rem; white-space: pre-wrap; }
    .error { color: #b00; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <textarea id="code" spellcheck="false">console.log("hello");</textarea>
  <p><button id="run">Run</button> <span id="quota"></span></p>
  <pre id="out"></pre>
  <script>
    const out = document.getElementById("out");
    const quota = document.getElementById("quota");
    document.getElementById("run").addEventListener("click", async () => {
      const resp = await fetch("/api/run", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({code: document.getElementById("code").value}),
      });
      const body = await resp.json();
      quota.textContent = body.remaining + " runs left";
      out.className = body.ok ? "" : "error";
      // Outcome fields arrive pre-escaped; render them as HTML.
      out.innerHTML = body.ok
        ? (body.output || "") + (body.result ? "=> " + body.result : "")
        : (body.error || "") + "\n" + (body.validationErrors || []).join("\n");
    });
  </script>
</body>
</html>`

// PlaygroundHandler serves the editor page.
type PlaygroundHandler struct {
	templates *template.Template
	logger    *slog.Logger
}

func NewPlaygroundHandler(logger *slog.Logger) (*PlaygroundHandler, error) {
	tmpl, err := template.New("playground").Parse(playgroundPage)
	if err != nil {
		return nil, err
	}
	return &PlaygroundHandler{
		templates: tmpl,
		logger:    logger,
	}, nil
}

func (h *PlaygroundHandler) HandlePlayground(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title": "Script Playground",
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := h.templates.ExecuteTemplate(w, "playground", data); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
