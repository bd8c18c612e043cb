// Package reportmd renders a host report as a markdown summary. The web UI
// converts it to HTML and the CLI renders it in the terminal.
package reportmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

// maxFields limits how many fields of one category are listed
const maxFields = 12

// Summary returns the markdown summary of a report
func Summary(r *entities.Report) string {
	var b strings.Builder

	title := r.Meta.Hostname
	if title == "" {
		title = r.Meta.HostID
	}
	fmt.Fprintf(&b, "# %s\n\n", escape(title))

	b.WriteString("| | |\n|---|---|\n")
	row(&b, "Host ID", r.Meta.HostID)
	if !r.Meta.Timestamp.IsZero() {
		row(&b, "Collected", r.Meta.Timestamp.UTC().Format(time.RFC1123))
	}
	row(&b, "Collection", r.Meta.CollectionID)
	row(&b, "Agent", r.Meta.AgentVersion)
	b.WriteString("\n")

	categories := r.Categories()
	if len(categories) == 0 {
		b.WriteString("_This report has no data._\n")
	}
	for _, name := range categories {
		fmt.Fprintf(&b, "## %s\n\n", escape(name))
		writeCategory(&b, gjson.ParseBytes(r.Data[name]))
		b.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "## Collection errors (%d)\n\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- **%s**: %s\n", escape(e.Collector), escape(e.Message))
		}
	}
	return b.String()
}

func row(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", name, escape(value))
}

func writeCategory(b *strings.Builder, v gjson.Result) {
	switch {
	case v.IsObject():
		type field struct{ key, value string }
		var fields []field
		v.ForEach(func(key, value gjson.Result) bool {
			fields = append(fields, field{key.String(), describe(value)})
			return true
		})
		sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
		for i, f := range fields {
			if i == maxFields {
				fmt.Fprintf(b, "- _and %d more_\n", len(fields)-maxFields)
				break
			}
			fmt.Fprintf(b, "- **%s**: %s\n", escape(f.key), f.value)
		}
	case v.IsArray():
		fmt.Fprintf(b, "%s\n", describe(v))
	default:
		fmt.Fprintf(b, "%s\n", describe(v))
	}
}

// describe renders a value on one line
func describe(v gjson.Result) string {
	switch {
	case v.IsArray():
		n := len(v.Array())
		if n == 1 {
			return "1 item"
		}
		return fmt.Sprintf("%d items", n)
	case v.IsObject():
		n := 0
		v.ForEach(func(_, _ gjson.Result) bool { n++; return true })
		return fmt.Sprintf("%d fields", n)
	case v.Type == gjson.Null:
		return "_none_"
	case v.Type == gjson.String:
		return "`" + strings.ReplaceAll(v.String(), "`", "'") + "`"
	default:
		return v.Raw
	}
}

var escaper = strings.NewReplacer("|", "\\|", "*", "\\*", "_", "\\_", "#", "\\#", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return escaper.Replace(s)
}
