package entities

import (
	"encoding/json"
	"sort"
	"time"
)

// Host is a machine that has reported system-insight data
type Host struct {
	HostID       string    `json:"host_id"`
	Hostname     string    `json:"hostname"`
	OSName       string    `json:"os_name,omitempty"`
	OSVersion    string    `json:"os_version,omitempty"`
	AgentVersion string    `json:"agent_version,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	ReportCount  int       `json:"report_count"`
}

// HostList is the response of GET /hosts
type HostList struct {
	Hosts []Host `json:"hosts"`
	Total int    `json:"total"`
}

// Report is the latest collection for a host, returned by GET /hosts/{id}
type Report struct {
	Meta   ReportMeta                 `json:"meta"`
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ReportError              `json:"errors,omitempty"`
}

// ReportMeta describes when and where a report was collected
type ReportMeta struct {
	HostID       string    `json:"host_id"`
	Hostname     string    `json:"hostname"`
	CollectionID string    `json:"collection_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	AgentVersion string    `json:"agent_version,omitempty"`
}

// ReportError is a collector failure recorded by the agent
type ReportError struct {
	Collector string `json:"collector"`
	Message   string `json:"message"`
}

// Categories returns the report's data categories in sorted order
func (r *Report) Categories() []string {
	names := make([]string, 0, len(r.Data))
	for name := range r.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
