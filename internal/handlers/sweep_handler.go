package handlers

import (
	"context"
	"net/http"

	"github.com/prudhvinik1/edgepresence/internal/services"
	"github.com/prudhvinik1/edgepresence/internal/utils"
	"go.uber.org/zap"
)

type Sweeper interface {
	Run(ctx context.Context) (*services.SweepReport, error)
}

// SweepHandler lets an external scheduler trigger a sweep. The caller sends
// the plain key in X-Sweep-Key; only its bcrypt hash is configured.
type SweepHandler struct {
	sweeper Sweeper
	keyHash string
	log     *zap.Logger
}

func NewSweepHandler(sweeper Sweeper, keyHash string, log *zap.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, keyHash: keyHash, log: log}
}

func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.keyHash == "" {
		http.NotFound(w, r)
		return
	}
	if !utils.CheckSecret(h.keyHash, r.Header.Get("X-Sweep-Key")) {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		// the report still describes what was done
		h.log.Warn("triggered sweep finished with errors", zap.Error(err))
	}
	if report == nil {
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
