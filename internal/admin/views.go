package admin

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed views
var content embed.FS

// views returns the embedded page assets rooted at views/.
// Panics if the embedded assets cannot be loaded (build error).
func views() fs.FS {
	sub, err := fs.Sub(content, "views")
	if err != nil {
		panic(fmt.Sprintf("admin: failed to load embedded views: %v", err))
	}
	return sub
}

// viewsHandler serves the static page assets (scripts).
func viewsHandler() http.Handler {
	fileServer := http.FileServerFS(views())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		fileServer.ServeHTTP(w, r)
	})
}
