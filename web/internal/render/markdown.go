package render

import (
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/reportmd"
)

var policy = bluemonday.UGCPolicy()

// Markdown converts markdown text to safe HTML for use in templates
func Markdown(markdown string) template.HTML {
	// Convert markdown to HTML
	unsafe := blackfriday.Run([]byte(markdown))

	// Sanitize the HTML to prevent XSS
	safe := policy.SanitizeBytes(unsafe)

	return template.HTML(safe)
}

// HostSummary renders a host report as sanitized HTML
func HostSummary(r *entities.Report) template.HTML {
	return Markdown(reportmd.Summary(r))
}
