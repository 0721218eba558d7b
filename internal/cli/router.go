package cli

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/muk365/whiteboard/internal/api"
	"github.com/muk365/whiteboard/internal/ws"
)

func newRouter(hub *ws.Hub, apiHandler *api.API, staticDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/{room}/{name}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)

	if staticDir != "" {
		assets := filepath.Join(staticDir, "static")
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(assets))))
		mux.HandleFunc("GET /robots.txt", serveFile(filepath.Join(assets, "robots.txt")))
		mux.HandleFunc("GET /sitemap.xml", serveFile(filepath.Join(assets, "sitemap.xml")))
		mux.HandleFunc("GET /{$}", serveFile(filepath.Join(staticDir, "index.html")))
	}

	return corsMiddleware(mux)
}

func serveFile(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
