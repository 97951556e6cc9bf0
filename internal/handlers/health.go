package handlers

import (
	"net/http"

	"github.com/1314ysys/WebTerminalTool/internal/database"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"pending_sessions": h.Registry.Pending(),
		"active_sessions":  h.Registry.Active(),
		"database":         dbStatus,
	})
}
