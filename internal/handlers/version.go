package handlers

import (
	"net/http"

	"photo-scanner/internal/classifier"
	"photo-scanner/internal/scan"
	"photo-scanner/internal/startup"
)

// VersionResponse is the build of the running scanner and the groups it
// sorts into. Clients compare Groups with a saved listing to notice a
// classifier change.
type VersionResponse struct {
	startup.BuildInfo
	Groups []string `json:"groups"`
}

// GetVersion returns build information and the classifier's group labels,
// others last.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, VersionResponse{
		BuildInfo: startup.GetBuildInfo(),
		Groups:    append(classifier.Strings(h.groups), scan.OthersLabel),
	})
}
