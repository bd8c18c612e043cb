package reportmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

func TestSummary(t *testing.T) {
	r := &entities.Report{
		Meta: entities.ReportMeta{
			HostID:       "h1",
			Hostname:     "web_1",
			Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			AgentVersion: "1.2.3",
		},
		Data: map[string]json.RawMessage{
			"system":   json.RawMessage(`{"cpus":4,"kernel":"6.1","mounts":["/","/home"],"memory":{"total":1024,"free":512}}`),
			"packages": json.RawMessage(`[{"name":"bash"}]`),
		},
		Errors: []entities.ReportError{{Collector: "selinux", Message: "permission denied"}},
	}

	md := Summary(r)
	assert.True(t, strings.HasPrefix(md, "# web\\_1\n"))
	assert.Contains(t, md, "| Agent | 1.2.3 |")
	assert.Contains(t, md, "## packages\n\n1 item")
	assert.Contains(t, md, "- **cpus**: 4")
	assert.Contains(t, md, "- **kernel**: `6.1`")
	assert.Contains(t, md, "- **memory**: 2 fields")
	assert.Contains(t, md, "- **mounts**: 2 items")
	assert.Contains(t, md, "## Collection errors (1)")
	assert.Less(t, strings.Index(md, "## packages"), strings.Index(md, "## system"))
}

func TestSummaryEmpty(t *testing.T) {
	md := Summary(&entities.Report{Meta: entities.ReportMeta{HostID: "h2"}})
	assert.Contains(t, md, "# h2")
	assert.Contains(t, md, "_This report has no data._")
	assert.NotContains(t, md, "Collection errors")
}

func TestSummaryTruncatesLargeCategories(t *testing.T) {
	fields := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		fields = append(fields, fmt.Sprintf(`"k%02d":%d`, i, i))
	}
	r := &entities.Report{Data: map[string]json.RawMessage{"big": json.RawMessage("{" + strings.Join(fields, ",") + "}")}}
	md := Summary(r)
	assert.Contains(t, md, "- _and 8 more_")
}
