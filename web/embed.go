package web

import "embed"

// Content holds the embedded API landing page.
//
//go:embed index.html
var Content embed.FS
