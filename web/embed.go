// Package web embeds the static pages served by the admin surface.
// Keeping them in the binary means a single-file deploy with no asset
// directory to ship alongside it.
package web

import "embed"

//go:embed static
var staticFS embed.FS

// LoginHTML returns the embedded login page.
func LoginHTML() []byte {
	data, err := staticFS.ReadFile("static/login.html")
	if err != nil {
		// The file is compiled in; a read failure is a build defect.
		panic(err)
	}
	return data
}
