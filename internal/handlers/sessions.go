package handlers

import (
	"net/http"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/logutil"
)

// sessionView never carries the attach identifier, only its fingerprint.
type sessionView struct {
	Fingerprint   string     `json:"fingerprint"`
	Address       string     `json:"address"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	AttachedAt    *time.Time `json:"attached_at,omitempty"`
	BytesToClient int64      `json:"bytes_to_client"`
	BytesToRemote int64      `json:"bytes_to_remote"`
}

// ListSessions returns every live session, oldest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	stats := h.Registry.List()
	out := make([]sessionView, 0, len(stats))
	for _, st := range stats {
		v := sessionView{
			Fingerprint:   logutil.Fingerprint(st.ID),
			Address:       st.Addr,
			State:         st.State.String(),
			CreatedAt:     st.CreatedAt,
			BytesToClient: st.BytesToClient,
			BytesToRemote: st.BytesToRemote,
		}
		if !st.AttachedAt.IsZero() {
			attached := st.AttachedAt
			v.AttachedAt = &attached
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}
