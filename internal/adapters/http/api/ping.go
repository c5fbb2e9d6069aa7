package api

import (
	"net/http"
	"time"
)

// PingHandler answers liveness probes.
type PingHandler struct {
	version string
	now     func() time.Time
}

// NewPingHandler creates a ping handler reporting version.
func NewPingHandler(version string) *PingHandler {
	return &PingHandler{version: version, now: time.Now}
}

type pingResponse struct {
	Res     string    `json:"res"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// HandlePing handles GET /ping requests.
func (h *PingHandler) HandlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{Res: "pong", Version: h.version, Time: h.now().UTC()})
}
