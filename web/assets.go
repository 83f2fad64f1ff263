// Package web embeds the page templates and the static files served under
// /static/.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed templates/*.tmpl templates/partials/*.tmpl static/*
var assets embed.FS

func TemplatesFS() fs.FS {
	return mustSub("templates")
}

func StaticFS() fs.FS {
	return mustSub("static")
}

// StaticHandler serves StaticFS with a short cache lifetime; the files change
// only when the binary does.
func StaticHandler() http.Handler {
	files := http.FileServer(http.FS(StaticFS()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(assets, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
