// Package templates holds the dashboard's HTML templates
package templates

import "embed"

// FS contains layouts/base.html, components/*.html and pages/*.html
//
//go:embed layouts components pages
var FS embed.FS
