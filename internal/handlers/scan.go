package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"photo-scanner/internal/logging"
	"photo-scanner/internal/scan"
)

// ScanStatus is the response of GET /api/scan.
type ScanStatus struct {
	RunID      string         `json:"runId,omitempty"`
	Scanning   bool           `json:"scanning"`
	Running    bool           `json:"running"`
	Processed  int            `json:"processed"`
	Total      int            `json:"total"`
	Progress   float64        `json:"progress"`
	GroupSizes map[string]int `json:"groupSizes"`
	Others     int            `json:"others"`
}

func (h *Handlers) status() ScanStatus {
	snap := h.scanner.State().Snapshot()
	return ScanStatus{
		RunID:      snap.RunID,
		Scanning:   snap.Scanning,
		Running:    h.scanner.Running(),
		Processed:  snap.Processed,
		Total:      snap.Total,
		Progress:   snap.Progress,
		GroupSizes: snap.GroupSizes(),
		Others:     len(snap.Others),
	}
}

// GetScanStatus returns the latest published scan state.
func (h *Handlers) GetScanStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, h.status())
}

// StartScan starts a scan run. With reset=true the previous results are
// discarded; otherwise the run resumes and only new items are classified.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	reset := false
	if v := r.URL.Query().Get("reset"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, "invalid reset parameter", http.StatusBadRequest)
			return
		}
		reset = parsed
	}

	if err := h.scanner.Start(h.ctx, reset); err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		logging.Error("failed to start scan: %v", err)
		writeJSONError(w, "failed to start scan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "started"})
}

// CancelScan cancels the running scan, if any.
func (h *Handlers) CancelScan(w http.ResponseWriter, _ *http.Request) {
	if !h.scanner.Running() {
		writeJSONStatus(w, "idle")
		return
	}
	h.scanner.Cancel()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "cancelling"})
}
