// ABOUTME: Embedded browser chat widget for visitors
// ABOUTME: Serves the static widget files plus a config.json naming the operator to talk to

// Package widget serves the visitor chat widget embedded via go:embed.
// The widget runs entirely in the browser against the public /api routes:
// it keeps its visitor token in localStorage, opens the conversation stream,
// then loads history and deduplicates by message id.
package widget

import (
	"embed"
	"encoding/json"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFS embed.FS

// Config is served as config.json to the widget script.
type Config struct {
	OperatorID string `json:"operatorId"`
	// APIBase is prepended to /api paths; empty means same origin.
	APIBase string `json:"apiBase,omitempty"`
}

func init() {
	// Errors only occur for malformed extensions; these literals are fine.
	_ = mime.AddExtensionType(".map", "application/json")
}

// mimeFromExt returns the MIME type for a file extension, falling back to
// the standard library's database and then application/octet-stream.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".map", ".json":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// Handler serves the widget. Paths are relative to the widget root, so mount
// it behind http.StripPrefix.
func Handler(cfg Config) http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("widget: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		panic("widget: failed to encode config: " + err.Error())
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unhashed filenames; always revalidate
		w.Header().Set("Cache-Control", "no-cache")

		p := strings.TrimPrefix(r.URL.Path, "/")
		if p == "config.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(configJSON)
			return
		}

		if ext := strings.ToLower(path.Ext(p)); ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		fileServer.ServeHTTP(w, r)
	})
}
