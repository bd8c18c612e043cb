// Package static holds the dashboard's stylesheets
package static

import "embed"

//go:embed *.css
var FS embed.FS
