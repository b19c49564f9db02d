package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/welth/internal/api/middleware"
	"github.com/dvloznov/welth/internal/logger"
)

//go:embed templates/not_found.html
var templateFiles embed.FS

var notFoundPage = template.Must(template.ParseFS(templateFiles, "templates/not_found.html"))

// NotFound renders the 404 page. Unknown API paths get a JSON body instead.
func NotFound(now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}

		var buf bytes.Buffer
		if err := notFoundPage.Execute(&buf, struct{ Year int }{Year: now().Year()}); err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("Failed to render not-found page")
			http.Error(w, "404 page not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write(buf.Bytes())
	}
}
