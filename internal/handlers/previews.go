package handlers

import (
	"net/http"
	"strconv"

	"photo-scanner/internal/logging"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
)

// bulkCacheLimit bounds the positions accepted by one cache hint.
const bulkCacheLimit = 1000

// GetPreview returns the preview at a position within a group. The request
// moves the preload window to the position; while nothing has been delivered
// yet it answers 202 and the client polls again.
func (h *Handlers) GetPreview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, ok := h.previews[vars["group"]]
	if !ok {
		writeJSONError(w, "unknown group", http.StatusNotFound)
		return
	}

	pos, err := strconv.Atoi(vars["position"])
	if err != nil || pos < 0 || pos >= p.Len() {
		writeJSONError(w, "position out of range", http.StatusNotFound)
		return
	}

	p.Preload([]int{pos})

	img, degraded, ok := p.Image(pos)
	if !ok {
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "pending"})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if degraded {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Preview-Quality", "degraded")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.Header().Set("X-Preview-Quality", "final")
	}
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		logging.Warn("failed to encode preview %s/%d: %v", vars["group"], pos, err)
	}
}

// CachePreviews starts (POST) or stops (DELETE) pre-caching the previews at
// positions [from, to) of a group.
func (h *Handlers) CachePreviews(w http.ResponseWriter, r *http.Request) {
	p, ok := h.previews[mux.Vars(r)["group"]]
	if !ok {
		writeJSONError(w, "unknown group", http.StatusNotFound)
		return
	}

	from, err := queryInt(r, "from", 0)
	if err != nil || from < 0 {
		writeJSONError(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := queryInt(r, "to", p.Len())
	if err != nil || to < from {
		writeJSONError(w, "invalid to", http.StatusBadRequest)
		return
	}
	to = min(to, p.Len(), from+bulkCacheLimit)

	positions := make([]int, 0, max(to-from, 0))
	for pos := from; pos < to; pos++ {
		positions = append(positions, pos)
	}

	if r.Method == http.MethodDelete {
		p.StopBulkCache(positions)
		writeJSONStatus(w, "stopped")
		return
	}
	p.StartBulkCache(positions)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]int{"positions": len(positions)})
}
