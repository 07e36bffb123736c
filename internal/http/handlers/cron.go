package handlers

import (
	"log/slog"
	"net/http"

	"github.com/garantia/server/internal/warranty"
)

// CronHandler triggers the reminder sweep. Protected by middleware.CronAuth.
type CronHandler struct {
	sweeper *warranty.Sweeper
	errorResponder
}

// NewCronHandler creates a new cron handler
func NewCronHandler(sweeper *warranty.Sweeper, logger *slog.Logger, devMode bool) *CronHandler {
	return &CronHandler{
		sweeper:        sweeper,
		errorResponder: errorResponder{logger: logger, devMode: devMode},
	}
}

// HandleCheckWarranties handles GET /cron/check-warranties
func (h *CronHandler) HandleCheckWarranties(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, report)
}
