package web

import "embed"

// Templates embeds the PDF and email templates.
//
//go:embed templates/**/*.html
var Templates embed.FS
