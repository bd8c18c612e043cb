package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/web/internal/render"
)

// Hosts lists every host that has reported
func (h *Handler) Hosts(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}

	list, err := sess.API.Hosts.List(r.Context())
	if err != nil {
		return err
	}

	total := list.Total
	if total < len(list.Hosts) {
		total = len(list.Hosts)
	}

	data := h.newTemplateData(w, r, "hosts")
	data["Hosts"] = list.Hosts
	data["Total"] = total
	return h.renderTemplate(w, http.StatusOK, "hosts.html", data)
}

// Host shows the latest report of one host
func (h *Handler) Host(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}

	id := mux.Vars(r)["id"]
	report, err := sess.API.Hosts.Get(r.Context(), id)
	if err != nil {
		return err
	}

	data := h.newTemplateData(w, r, "hosts")
	data["Report"] = report
	data["Summary"] = render.HostSummary(report)
	return h.renderTemplate(w, http.StatusOK, "host.html", data)
}

// HostDelete removes a host. Editors and admins only.
func (h *Handler) HostDelete(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}

	id := mux.Vars(r)["id"]
	back := "/hosts/" + id
	if err := auth.RequireEditor(r.Context()); err != nil {
		h.flash(w, r, "Editor access required")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return nil
	}

	if err := sess.API.Hosts.Delete(r.Context(), id); err != nil {
		return h.fail(w, r, err, back)
	}

	h.log.Info("host deleted", slog.String("host_id", id))
	h.flash(w, r, "Host deleted")
	http.Redirect(w, r, "/hosts", http.StatusSeeOther)
	return nil
}
