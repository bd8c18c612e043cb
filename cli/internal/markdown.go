package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

// renderMarkdown renders markdown content, using glamour for terminal output or plain text otherwise
func renderMarkdown(w io.Writer, markdown string, theme string) string {
	if w != io.Writer(os.Stdout) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return markdown
	}
	rendered, err := glamour.Render(markdown, theme)
	if err != nil {
		// plain markdown is still readable
		return markdown
	}
	return rendered
}

// printMarkdown renders and prints markdown using the context's theme
func printMarkdown(w io.Writer, ctx *Context, markdown string) {
	fmt.Fprint(w, renderMarkdown(w, markdown, getTheme(ctx)))
}

// getTheme returns the theme of a context, or "auto"
func getTheme(ctx *Context) string {
	if ctx == nil || ctx.Rendering.Theme == "" {
		return "auto"
	}
	return ctx.Rendering.Theme
}

func roleColor(role entities.Role) string {
	switch role {
	case entities.RoleAdmin:
		return color.RedString(string(role))
	case entities.RoleEditor:
		return color.YellowString(string(role))
	}
	return color.CyanString(string(role))
}
