package httpserver

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/process"

	"telecare/internal/presence"
	"telecare/internal/protocol"
	"telecare/internal/service"
)

func handleParticipantStatus(status *service.StatusService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := status.Status(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeError(w, err)
			return
		}
		resp := protocol.UserStatus{UserID: p.ID, Role: p.Role, IsOnline: p.IsOnline}
		if !p.LastActive.IsZero() {
			resp.LastActive = &p.LastActive
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type healthResponse struct {
	Status     string  `json:"status"`
	Online     int     `json:"online"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
}

// handleHealth reports liveness, the number of connected participants and the
// resource usage of this process. Missing process stats do not fail the probe.
func handleHealth(registry *presence.Registry, log *slog.Logger) http.HandlerFunc {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("health: process stats unavailable", "err", err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Online: len(registry.Online())}
		if self != nil {
			if mem, err := self.MemoryInfo(); err == nil {
				resp.RSSBytes = mem.RSS
			}
			if cpu, err := self.CPUPercent(); err == nil {
				resp.CPUPercent = cpu
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
