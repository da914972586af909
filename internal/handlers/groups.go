package handlers

import (
	"net/http"
	"strconv"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
	"photo-scanner/internal/scan"

	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 500
	maxPageSize     = 5000
)

// GroupSummary describes one group in GET /api/groups.
type GroupSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GroupPage is the response of GET /api/groups/{group}.
type GroupPage struct {
	Group  string   `json:"group"`
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Items  []string `json:"items"`
}

// ListGroups returns every group in classifier order followed by the
// overflow group.
func (h *Handlers) ListGroups(w http.ResponseWriter, _ *http.Request) {
	snap := h.scanner.State().Snapshot()

	summaries := make([]GroupSummary, 0, len(h.groups)+1)
	for _, g := range h.groups {
		summaries = append(summaries, GroupSummary{Name: string(g), Count: len(snap.Groups[g])})
	}
	summaries = append(summaries, GroupSummary{Name: scan.OthersLabel, Count: len(snap.Others)})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, summaries)
}

// GetGroup returns the identifiers of one group, in classification order,
// paginated with offset and limit.
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["group"]

	items, ok := h.groupItems(name)
	if !ok {
		writeJSONError(w, "unknown group", http.StatusNotFound)
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSONError(w, "invalid offset", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeJSONError(w, "invalid limit", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxPageSize)

	page := GroupPage{Group: name, Total: len(items), Offset: offset, Items: []string{}}
	if offset < len(items) {
		page.Items = asset.IDs(items[offset:min(offset+limit, len(items))])
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, page)
}

func (h *Handlers) groupItems(name string) ([]asset.Item, bool) {
	snap := h.scanner.State().Snapshot()
	if name == scan.OthersLabel {
		return snap.Others, true
	}
	for _, g := range h.groups {
		if string(g) == name {
			return snap.Groups[classifier.Group(name)], true
		}
	}
	return nil, false
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
