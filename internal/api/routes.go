package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the control-plane router: listener CRUD,
// health, and a static-file fallback for anything else.
func SetupRoutes(h *Handlers, hc *HealthChecker, staticDir string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Permissive CORS: the control plane has no auth and no Non-goal
	// excludes cross-origin callers, so any origin and header is
	// allowed. Allowed methods are only GET, POST, PUT, DELETE and
	// OPTIONS; other methods are not accepted cross-origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", hc.HandleHealth)

	r.Route("/listeners", func(r chi.Router) {
		r.Get("/", h.ListListeners)
		r.Post("/", h.CreateListener)
		r.Get("/{id}", h.GetListener)
		r.Put("/{id}", h.UpdateListener)
		r.Delete("/{id}", h.DeleteListener)
	})

	spaHandler(r, staticDir)

	return r
}

// spaHandler serves static files from staticDir for any path not
// already claimed above. There is no single-page app here, so a
// missing file is a plain 404, not an index.html fallback.
func spaHandler(r chi.Router, staticDir string) {
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if strings.HasPrefix(path, "/listeners") || strings.HasPrefix(path, "/health") {
			http.NotFound(w, req)
			return
		}

		filePath := filepath.Join(staticDir, path)
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			http.ServeFile(w, req, filePath)
			return
		}
		http.NotFound(w, req)
	})
}
