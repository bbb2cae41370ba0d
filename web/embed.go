// Package web embeds the static browser UI served by the API binary.
package web

import "embed"

//go:embed index.html assets
var FS embed.FS
