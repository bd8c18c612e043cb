package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

const (
	// recentHosts is how many hosts the dashboard lists
	recentHosts = 5
	// activeWindow is how recently a host must have reported to count as active
	activeWindow = 24 * time.Hour
)

// Dashboard shows API health, host totals and the most recently seen hosts
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) error {
	// Only handle root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return nil
	}

	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}

	var (
		hosts  *entities.HostList
		health *entities.Health
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		hosts, err = sess.API.Hosts.List(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		health, err = sess.API.Health.Check(ctx)
		if err != nil {
			// shown as unavailable rather than failing the page
			h.log.Warn("health check failed", slog.String("error", err.Error()))
			health = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	recent := make([]entities.Host, len(hosts.Hosts))
	copy(recent, hosts.Hosts)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].LastSeen.After(recent[j].LastSeen) })

	active := 0
	cutoff := time.Now().Add(-activeWindow)
	for _, host := range recent {
		if host.LastSeen.After(cutoff) {
			active++
		}
	}
	if len(recent) > recentHosts {
		recent = recent[:recentHosts]
	}

	total := hosts.Total
	if total < len(hosts.Hosts) {
		total = len(hosts.Hosts)
	}

	data := h.newTemplateData(w, r, "dashboard")
	data["Health"] = health
	data["Healthy"] = health != nil && health.IsHealthy()
	data["TotalHosts"] = total
	data["ActiveHosts"] = active
	data["RecentHosts"] = recent
	return h.renderTemplate(w, http.StatusOK, "dashboard.html", data)
}
