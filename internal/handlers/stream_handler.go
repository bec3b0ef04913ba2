package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prudhvinik1/edgepresence/internal/feed"
	"go.uber.org/zap"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler serves the change feed as server-sent events.
type StreamHandler struct {
	hub *feed.Hub
	log *zap.Logger
}

func NewStreamHandler(hub *feed.Hub, log *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, log: log}
}

// Stream sends a "presence" event per change. ?ids=a,b restricts the
// stream to those users.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid ids")
		return
	}

	rc := http.NewResponseController(w)
	changes, cancel := h.hub.Subscribe(ids)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.log.Warn("stream flush unsupported", zap.Error(err))
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
		case change, ok := <-changes:
			if !ok {
				return
			}
			body, err := json.Marshal(change)
			if err != nil {
				h.log.Warn("failed to encode presence change", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: presence\ndata: %s\n\n", body)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
